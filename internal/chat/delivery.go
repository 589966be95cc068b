// ABOUTME: Matrix implementation of the pipeline Delivery contract.
// ABOUTME: Sends, edits via m.replace relations, deletes via redaction.

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Matrix delivers messages through a mautrix client. Chat ids are room ids,
// message ids are event ids; both travel as opaque strings.
type Matrix struct {
	client *mautrix.Client
	logger *slog.Logger
}

// NewMatrix wraps an already-authenticated mautrix client.
func NewMatrix(client *mautrix.Client, logger *slog.Logger) *Matrix {
	return &Matrix{client: client, logger: logger.With("component", "chat")}
}

// textContent builds a message with the markdown source as plain body and
// the rendered HTML as formatted_body.
func textContent(msgType event.MessageType, text string) event.MessageEventContent {
	content := event.MessageEventContent{
		MsgType: msgType,
		Body:    text,
	}
	if html := renderHTML(text); html != "" && html != text {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}

func (m *Matrix) sendContent(ctx context.Context, chatID string, content *event.MessageEventContent) (string, error) {
	resp, err := m.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending to %s: %w", chatID, err)
	}
	return resp.EventID.String(), nil
}

func (m *Matrix) editContent(ctx context.Context, chatID, msgID string, content event.MessageEventContent) error {
	content.SetEdit(id.EventID(msgID))
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("editing %s in %s: %w", msgID, chatID, err)
	}
	return nil
}

// SendStatus posts the status message as an m.notice so clients render it
// subdued and bridges don't loop on it.
func (m *Matrix) SendStatus(ctx context.Context, chatID, text string) (string, error) {
	content := textContent(event.MsgNotice, text)
	return m.sendContent(ctx, chatID, &content)
}

// EditStatus replaces the status message content in place.
func (m *Matrix) EditStatus(ctx context.Context, chatID, msgID, text string) error {
	return m.editContent(ctx, chatID, msgID, textContent(event.MsgNotice, text))
}

// Send posts a regular text message.
func (m *Matrix) Send(ctx context.Context, chatID, text string) (string, error) {
	content := textContent(event.MsgText, text)
	return m.sendContent(ctx, chatID, &content)
}

// EditText replaces a regular message's content in place.
func (m *Matrix) EditText(ctx context.Context, chatID, msgID, text string) error {
	return m.editContent(ctx, chatID, msgID, textContent(event.MsgText, text))
}

// Delete redacts a message. A redaction that fails because the event is
// already gone is treated as success.
func (m *Matrix) Delete(ctx context.Context, chatID, msgID string) error {
	_, err := m.client.RedactEvent(ctx, id.RoomID(chatID), id.EventID(msgID))
	if err != nil {
		m.logger.Debug("redaction failed", "room", chatID, "event", msgID, "error", err)
		return fmt.Errorf("redacting %s: %w", msgID, err)
	}
	return nil
}

func (m *Matrix) imageContent(ctx context.Context, image []byte, caption string) (*event.MessageEventContent, error) {
	upload, err := m.client.UploadBytes(ctx, image, http.DetectContentType(image))
	if err != nil {
		return nil, fmt.Errorf("uploading image: %w", err)
	}
	body := caption
	if body == "" {
		body = "screenshot"
	}
	return &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    body,
		URL:     upload.ContentURI.CUString(),
		Info:    &event.FileInfo{MimeType: http.DetectContentType(image), Size: len(image)},
	}, nil
}

// SendPhoto uploads the image to the media repo and posts an m.image message.
func (m *Matrix) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) (string, error) {
	content, err := m.imageContent(ctx, image, caption)
	if err != nil {
		return "", err
	}
	return m.sendContent(ctx, chatID, content)
}

// EditPhoto replaces an image message with a freshly uploaded one.
func (m *Matrix) EditPhoto(ctx context.Context, chatID, msgID string, image []byte, caption string) error {
	content, err := m.imageContent(ctx, image, caption)
	if err != nil {
		return err
	}
	return m.editContent(ctx, chatID, msgID, *content)
}
