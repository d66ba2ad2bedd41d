package install

import (
	"sync"

	"github.com/kilnhq/kiln/internal/transport"
)

// mailbox is an unbounded message queue, so subscribers never block the
// transport read loop.
type mailbox struct {
	mu     sync.Mutex
	msgs   []transport.Message
	notify chan struct{}
}

func newMailbox() *mailbox { return &mailbox{notify: make(chan struct{}, 1)} }

func (m *mailbox) put(msg transport.Message) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []transport.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs
	m.msgs = nil
	return msgs
}
