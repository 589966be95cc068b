// ABOUTME: Chat Delivery seam: send/edit/delete-by-opaque-id primitives.
// ABOUTME: Any platform exposing equivalent operations can implement this.

package pipeline

import "context"

// Delivery is the external chat surface. Message ids are opaque strings
// minted by the platform; the pipeline only ever hands them back unchanged.
type Delivery interface {
	// SendStatus posts the mutable status message and returns its id.
	SendStatus(ctx context.Context, chatID, text string) (string, error)
	// EditStatus replaces the status message content in place.
	EditStatus(ctx context.Context, chatID, msgID, text string) error
	// Send posts a regular message and returns its id.
	Send(ctx context.Context, chatID, text string) (string, error)
	// EditText replaces a regular message's content in place.
	EditText(ctx context.Context, chatID, msgID, text string) error
	// Delete removes a message. Deleting an already-gone message is not an error.
	Delete(ctx context.Context, chatID, msgID string) error
	// SendPhoto posts an image with caption and returns the message id.
	SendPhoto(ctx context.Context, chatID string, image []byte, caption string) (string, error)
	// EditPhoto replaces an image message's content in place.
	EditPhoto(ctx context.Context, chatID, msgID string, image []byte, caption string) error
}
