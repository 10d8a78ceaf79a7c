// Package history implements the chat history stores: a plain in-memory
// store and a LevelDB-backed one for histories that survive restarts.
package history

import (
	"sync"

	"peerchat/datamodel/message"
)

var _ message.History = (*Memory)(nil)

// Memory keeps the full history in an in-memory slice. Growth is unbounded.
type Memory struct {
	mu       sync.Mutex
	messages []*message.Message
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) Recent(n int) ([]*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if n > 0 && len(m.messages) > n {
		start = len(m.messages) - n
	}

	out := make([]*message.Message, len(m.messages)-start)
	copy(out, m.messages[start:])
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
