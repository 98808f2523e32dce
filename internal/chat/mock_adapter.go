package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentMessage is one delivery recorded by MockAdapter.
type SentMessage struct {
	MessageID string
	Recipient string // user ID for direct sends, channel ID otherwise
	Direct    bool
	Msg       OutboundMessage
}

// MockAdapter implements Adapter for tests. It records sent messages, hands
// out sequential message IDs and lets tests inject per-recipient failures
// and delays.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []SentMessage
	nextID    int
	failures  map[string]error
	delays    map[string]time.Duration
	handles   map[string]string
	botUserID string
	guilds    int
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:  make(chan InboundMessage, 100),
		failures: make(map[string]error),
		delays:   make(map[string]time.Duration),
		handles:  make(map[string]string),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// GuildCount returns the count set by SetGuildCount (implements GuildCounter).
func (m *MockAdapter) GuildCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guilds
}

// SetGuildCount sets the guild count for testing.
func (m *MockAdapter) SetGuildCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds = n
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.inbound, nil
}

// Send records a channel message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	return m.deliver(ctx, msg.ChannelID, false, msg)
}

// SendDirect records a direct message to userID.
func (m *MockAdapter) SendDirect(ctx context.Context, userID string, msg OutboundMessage) (string, error) {
	return m.deliver(ctx, userID, true, msg)
}

func (m *MockAdapter) deliver(ctx context.Context, recipient string, direct bool, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	delay := m.delays[recipient]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[recipient]; err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("mock-msg-%d", m.nextID)
	m.sent = append(m.sent, SentMessage{MessageID: id, Recipient: recipient, Direct: direct, Msg: msg})
	return id, nil
}

// ResolveUserHandle returns the handle registered with SetHandle.
func (m *MockAdapter) ResolveUserHandle(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[userID]; ok {
		return h, nil
	}
	return "", fmt.Errorf("mock adapter: unknown user %s", userID)
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// FailFor makes every delivery to recipient return err. A nil err clears it.
func (m *MockAdapter) FailFor(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, recipient)
		return
	}
	m.failures[recipient] = err
}

// DelayFor holds deliveries to recipient for d, or until the send context
// is done.
func (m *MockAdapter) DelayFor(recipient string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[recipient] = d
}

// SetHandle registers the display name returned by ResolveUserHandle.
func (m *MockAdapter) SetHandle(userID, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[userID] = handle
}

// SentCount returns the number of successful deliveries.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// LastSent returns the most recent delivery.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// AllSent returns a copy of all deliveries.
func (m *MockAdapter) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the deliveries addressed to recipient, in order.
func (m *MockAdapter) SentTo(recipient string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, s := range m.sent {
		if s.Recipient == recipient {
			out = append(out, s)
		}
	}
	return out
}
