// Package loopback is an in-process transport. A Network connects any
// number of Endpoints; each Endpoint is a transport.Adapter acting for one
// participant (or for a server when its id is empty).
//
// Every subscription has its own inbox and delivery goroutine, so handlers
// run asynchronously and in send order, the way a network adapter would
// call them.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yndnr/annomesh-go/internal/transport"
)

const inboxSize = 1024

// Network routes payloads between endpoints.
type Network struct {
	mu       sync.Mutex
	sessions map[string][]*member
	closed   bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{sessions: make(map[string][]*member)}
}

// Endpoint returns a new adapter acting for participantID.
func (n *Network) Endpoint(participantID string) *Endpoint {
	return &Endpoint{net: n, id: participantID}
}

// Close detaches every subscription.
func (n *Network) Close() {
	n.mu.Lock()
	n.closed = true
	var all []*member
	for _, ms := range n.sessions {
		all = append(all, ms...)
	}
	n.sessions = make(map[string][]*member)
	n.mu.Unlock()

	for _, m := range all {
		m.stop()
	}
}

// Members returns the participant ids subscribed to a session.
func (n *Network) Members(sessionID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, m := range n.sessions[sessionID] {
		ids = append(ids, m.ep.id)
	}
	return ids
}

type member struct {
	ep      *Endpoint
	session string
	h       transport.Handler
	inbox   chan func()
	quit    chan struct{}
	once    sync.Once
}

func (m *member) pump() {
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.quit:
			return
		}
	}
}

func (m *member) stop() {
	m.once.Do(func() { close(m.quit) })
}

func (m *member) deliver(ctx context.Context, fn func()) error {
	select {
	case m.inbox <- fn:
		return nil
	case <-m.quit:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Endpoint is a transport.Adapter on a Network.
type Endpoint struct {
	net     *Network
	id      string
	failing atomic.Bool
}

var _ transport.Adapter = (*Endpoint)(nil)

// ID returns the participant the endpoint acts for.
func (e *Endpoint) ID() string { return e.id }

// SetFailing makes Send and SendTo fail with ErrNotConnected, simulating a
// dropped link. Inbound delivery is unaffected.
func (e *Endpoint) SetFailing(failing bool) {
	e.failing.Store(failing)
}

// Send implements transport.Adapter.
func (e *Endpoint) Send(ctx context.Context, sessionID string, payload []byte) error {
	if e.failing.Load() {
		return transport.ErrNotConnected
	}
	targets, err := e.net.targets(sessionID, e, func(m *member) bool { return m.ep != e })
	if err != nil {
		return err
	}
	return e.deliverAll(ctx, targets, payload)
}

// SendTo implements transport.Adapter.
func (e *Endpoint) SendTo(ctx context.Context, sessionID, participantID string, payload []byte) error {
	if e.failing.Load() {
		return transport.ErrNotConnected
	}
	targets, err := e.net.targets(sessionID, e, func(m *member) bool {
		return m.ep != e && m.ep.id == participantID
	})
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return transport.ErrUnknownRecipient
	}
	return e.deliverAll(ctx, targets, payload)
}

func (e *Endpoint) deliverAll(ctx context.Context, targets []*member, payload []byte) error {
	for _, m := range targets {
		data := append([]byte(nil), payload...)
		h, from := m.h, e.id
		if err := m.deliver(ctx, func() { h.OnMessage(from, data) }); err != nil && err != transport.ErrClosed {
			return err
		}
	}
	return nil
}

func (n *Network) targets(sessionID string, from *Endpoint, keep func(*member) bool) ([]*member, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, transport.ErrClosed
	}
	ms, ok := n.sessions[sessionID]
	if !ok {
		return nil, transport.ErrUnknownSession
	}
	subscribed := false
	var out []*member
	for _, m := range ms {
		if m.ep == from {
			subscribed = true
		}
		if keep(m) {
			out = append(out, m)
		}
	}
	if !subscribed {
		return nil, transport.ErrNotConnected
	}
	return out, nil
}

// Subscribe implements transport.Adapter. The new handler is told about its
// own participant and the ones already present; existing handlers are told
// about the newcomer.
func (e *Endpoint) Subscribe(sessionID string, h transport.Handler) (func(), error) {
	n := e.net
	m := &member{
		ep:      e,
		session: sessionID,
		h:       h,
		inbox:   make(chan func(), inboxSize),
		quit:    make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, transport.ErrClosed
	}
	for _, other := range n.sessions[sessionID] {
		if other.ep == e {
			n.mu.Unlock()
			return nil, transport.ErrAlreadySubscribed
		}
	}
	others := append([]*member(nil), n.sessions[sessionID]...)
	n.sessions[sessionID] = append(n.sessions[sessionID], m)
	go m.pump()

	// Queued under the lock so joins precede any payload sent afterwards.
	ctx := context.Background()
	if e.id != "" {
		_ = m.deliver(ctx, func() { h.OnJoin(e.id) })
	}
	for _, other := range others {
		if other.ep.id != "" {
			id := other.ep.id
			_ = m.deliver(ctx, func() { h.OnJoin(id) })
		}
		if e.id != "" {
			oh := other.h
			_ = other.deliver(ctx, func() { oh.OnJoin(e.id) })
		}
	}
	n.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { n.unsubscribe(m) }) }, nil
}

func (n *Network) unsubscribe(m *member) {
	n.mu.Lock()
	ms := n.sessions[m.session]
	for i, cur := range ms {
		if cur == m {
			ms = append(ms[:i:i], ms[i+1:]...)
			break
		}
	}
	if len(ms) == 0 {
		delete(n.sessions, m.session)
	} else {
		n.sessions[m.session] = ms
	}
	if m.ep.id != "" {
		for _, other := range ms {
			oh, id := other.h, m.ep.id
			_ = other.deliver(context.Background(), func() { oh.OnLeave(id) })
		}
	}
	n.mu.Unlock()
	m.stop()
}
