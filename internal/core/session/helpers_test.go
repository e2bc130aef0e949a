package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/wire"
)

// fakeAdapter records outbound payloads and can be made to fail.
type fakeAdapter struct {
	mu      sync.Mutex
	sent    [][]byte
	sentTo  map[string][][]byte
	failing bool
	handler transport.Handler
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sentTo: make(map[string][][]byte)}
}

func (f *fakeAdapter) Send(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeAdapter) SendTo(_ context.Context, _, pid string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return transport.ErrNotConnected
	}
	f.sentTo[pid] = append(f.sentTo[pid], payload)
	return nil
}

func (f *fakeAdapter) Subscribe(_ string, h transport.Handler) (func(), error) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeAdapter) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeAdapter) broadcasts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeAdapter) directTo(pid string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sentTo[pid]...)
}

// types returns the message types of payloads.
func types(t *testing.T, payloads [][]byte) []wire.Type {
	t.Helper()
	out := make([]wire.Type, 0, len(payloads))
	for _, p := range payloads {
		typ, err := wire.PeekType(p)
		if err != nil {
			t.Fatalf("PeekType() error = %v", err)
		}
		out = append(out, typ)
	}
	return out
}

// ops decodes the op messages among payloads.
func ops(t *testing.T, payloads [][]byte) []*domain.Operation {
	t.Helper()
	var out []*domain.Operation
	for _, p := range payloads {
		env, err := wire.Decode(p)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if env.Msg != wire.TypeOp {
			continue
		}
		var m wire.Op
		if err := env.Into(&m); err != nil {
			t.Fatalf("Into() error = %v", err)
		}
		op, err := m.Operation()
		if err != nil {
			t.Fatalf("Operation() error = %v", err)
		}
		out = append(out, op)
	}
	return out
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock(start int64) func() time.Time {
	var mu sync.Mutex
	ms := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ms++
		return time.UnixMilli(ms)
	}
}

func newTestCoordinator(t *testing.T, id string, cfg Config, opts ...Option) (*Coordinator, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter()
	c := NewCoordinator(id, adapter, cfg, opts...)
	c.Start()
	t.Cleanup(c.Close)
	return c, adapter
}

func rectangle(id string) *domain.Annotation {
	return &domain.Annotation{
		ID:       id,
		Kind:     domain.KindRectangle,
		Geometry: domain.Geometry{X: 10, Y: 20, Width: 100, Height: 50},
		Color:    "#ff0000",
		LayerID:  domain.DefaultLayerID,
	}
}

func pointAnn(id string) *domain.Annotation {
	return &domain.Annotation{
		ID:       id,
		Kind:     domain.KindPoint,
		Geometry: domain.Geometry{X: 5, Y: 5},
		LayerID:  domain.DefaultLayerID,
	}
}

func ids(anns []*domain.Annotation) []string {
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		out = append(out, a.ID)
	}
	return out
}

func listIDs(t *testing.T, c *Coordinator) []string {
	t.Helper()
	anns, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return ids(anns)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func strPtr(s string) *string { return &s }
