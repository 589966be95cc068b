// ABOUTME: In-memory Delivery mock recording every send/edit/delete operation.
// ABOUTME: Supports injected edit failures to exercise the stale-id fallback.

package pipeline

import (
	"context"
	"fmt"
	"sync"
)

type mockMessage struct {
	text    string
	status  bool
	photo   bool
	deleted bool
	edits   int
}

type mockDelivery struct {
	mu       sync.Mutex
	nextID   int
	messages map[string]*mockMessage
	order    []string
	failEdit bool
}

func newMockDelivery() *mockDelivery {
	return &mockDelivery{messages: make(map[string]*mockMessage)}
}

func (m *mockDelivery) send(text string, status, photo bool) string {
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.messages[id] = &mockMessage{text: text, status: status, photo: photo}
	m.order = append(m.order, id)
	return id
}

func (m *mockDelivery) SendStatus(ctx context.Context, chatID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(text, true, false), nil
}

func (m *mockDelivery) EditStatus(ctx context.Context, chatID, msgID, text string) error {
	return m.edit(msgID, text)
}

func (m *mockDelivery) Send(ctx context.Context, chatID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(text, false, false), nil
}

func (m *mockDelivery) EditText(ctx context.Context, chatID, msgID, text string) error {
	return m.edit(msgID, text)
}

func (m *mockDelivery) edit(msgID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgID]
	if !ok || msg.deleted || m.failEdit {
		return fmt.Errorf("cannot edit %s", msgID)
	}
	msg.text = text
	msg.edits++
	return nil
}

func (m *mockDelivery) Delete(ctx context.Context, chatID, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgID]
	if !ok {
		return fmt.Errorf("no such message %s", msgID)
	}
	msg.deleted = true
	return nil
}

func (m *mockDelivery) SendPhoto(ctx context.Context, chatID string, image []byte, caption string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(caption, false, true), nil
}

func (m *mockDelivery) EditPhoto(ctx context.Context, chatID, msgID string, image []byte, caption string) error {
	return m.edit(msgID, caption)
}

// visible returns the ids of undeleted messages in send order.
func (m *mockDelivery) visible() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		if !m.messages[id].deleted {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *mockDelivery) text(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		return msg.text
	}
	return ""
}

func (m *mockDelivery) edits(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		return msg.edits
	}
	return 0
}

func (m *mockDelivery) setFailEdit(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEdit = fail
}
