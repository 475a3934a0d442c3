package render

import (
	"context"
	"sync"
)

// Memory is a Collection held in memory. It backs one-off renders of
// records that are not stored anywhere.
type Memory struct {
	chat Chat

	mu       sync.Mutex
	ids      map[string]bool
	mentions map[string]bool
	rendered []string
}

// NewMemory returns a collection of records for chat. mentioned lists the
// ids of records that mention the viewer.
func NewMemory(chat Chat, records []Record, mentioned ...string) *Memory {
	m := &Memory{
		chat:     chat,
		ids:      make(map[string]bool, len(records)),
		mentions: make(map[string]bool, len(mentioned)),
	}
	for _, rec := range records {
		m.ids[rec.ID] = true
	}
	for _, id := range mentioned {
		m.mentions[id] = true
	}
	return m
}

func (m *Memory) Chat() Chat {
	return m.chat
}

func (m *Memory) Contains(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id], nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
	return nil
}

func (m *Memory) MentionsMe(_ context.Context, rec *Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mentions[rec.ID], nil
}

func (m *Memory) Rendered(_ context.Context, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[rec.ID] {
		m.rendered = append(m.rendered, rec.ID)
	}
}

// RenderedIDs returns the ids of rendered records in notification order.
func (m *Memory) RenderedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rendered...)
}
