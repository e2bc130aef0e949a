package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/session"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/transport/wsgateway"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func testConfig(url, participant string) Config {
	return Config{
		URL:            url,
		ParticipantID:  participant,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func annotationIDs(t *testing.T, c *session.Coordinator) []string {
	t.Helper()
	anns, err := c.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		out = append(out, a.ID)
	}
	sort.Strings(out)
	return out
}

func TestClient_ReplicasSyncThroughGateway(t *testing.T) {
	ctx := context.Background()
	var m *session.Manager
	gw := wsgateway.New(wsgateway.DefaultConfig(), func(ctx context.Context, id string) error {
		_, err := m.Open(ctx, id)
		return err
	})
	m = session.NewManager(gw, session.DefaultConfig())
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()
	defer func() { _ = m.Close(ctx) }()

	replica := func(pid string) *session.Coordinator {
		client, err := New(testConfig(wsURL(srv), pid))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(client.Close)
		c := session.NewCoordinator("doc", client, session.ReplicaConfig(pid))
		c.Start()
		t.Cleanup(c.Close)
		if _, err := client.Subscribe("doc", c); err != nil {
			t.Fatal(err)
		}
		eventually(t, pid+" connected", func() bool { return client.Connected("doc") })
		return c
	}
	alice := replica("alice")
	bob := replica("bob")

	rect := &domain.Annotation{
		ID:       "ann-1",
		Kind:     domain.KindRectangle,
		Geometry: domain.Geometry{X: 1, Y: 2, Width: 30, Height: 40},
		LayerID:  domain.DefaultLayerID,
	}
	if _, err := alice.SubmitLocal(ctx, "alice", domain.CreateDraft(rect)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob sees ann-1", func() bool { return len(annotationIDs(t, bob)) == 1 })

	server, ok := m.Get("doc")
	if !ok {
		t.Fatal("server coordinator missing")
	}
	eventually(t, "server sees ann-1", func() bool { return len(annotationIDs(t, server)) == 1 })
	eventually(t, "server participants", func() bool { return server.Participants() == 2 })

	if _, err := bob.SubmitLocal(ctx, "bob", domain.DeleteDraft("ann-1")); err != nil {
		t.Fatal(err)
	}
	for name, c := range map[string]*session.Coordinator{"alice": alice, "server": server} {
		eventually(t, name+" sees delete", func() bool { return len(annotationIDs(t, c)) == 0 })
	}

	// A late joiner starts from the server's snapshot.
	carol := replica("carol")
	if _, err := alice.SubmitLocal(ctx, "alice", domain.CreateDraft(&domain.Annotation{
		ID: "ann-2", Kind: domain.KindPoint, LayerID: domain.DefaultLayerID,
	})); err != nil {
		t.Fatal(err)
	}
	eventually(t, "carol sees ann-2", func() bool {
		ids := annotationIDs(t, carol)
		return len(ids) == 1 && ids[0] == "ann-2"
	})
}

type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.list = append(e.list, s)
	e.mu.Unlock()
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func TestClient_Reconnects(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session") != "doc" || r.URL.Query().Get("participant") != "alice" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := dials.Add(1)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"msg":"resync"}`))
		if n == 1 {
			// Drop the first connection without a close handshake.
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, err := New(testConfig(wsURL(srv), "alice"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var got events
	_, err = client.Subscribe("doc", transport.HandlerFuncs{
		Message: func(pid string, payload []byte) { got.add("msg:" + pid + ":" + string(payload)) },
		Join:    func(pid string) { got.add("join:" + pid) },
		Leave:   func(pid string) { got.add("leave:" + pid) },
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "second connection", func() bool { return len(got.snapshot()) >= 5 })
	want := []string{
		"join:alice", `msg::{"msg":"resync"}`, "leave:alice",
		"join:alice", `msg::{"msg":"resync"}`,
	}
	if g := got.snapshot()[:5]; strings.Join(g, " ") != strings.Join(want, " ") {
		t.Errorf("events = %v, want %v", g, want)
	}
	eventually(t, "connected", func() bool { return client.Connected("doc") })
	if err := client.Send(context.Background(), "doc", []byte(`{"msg":"undo"}`)); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestClient_Errors(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without URL succeeded")
	}

	// Nothing listens here, so the client keeps redialing.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	client, err := New(testConfig(url, ""))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if len(client.ParticipantID()) != 36 {
		t.Errorf("ParticipantID() = %q, want a generated UUID", client.ParticipantID())
	}

	ctx := context.Background()
	if err := client.Send(ctx, "doc", []byte("x")); !errors.Is(err, transport.ErrUnknownSession) {
		t.Errorf("Send() before Subscribe error = %v", err)
	}
	cancel, err := client.Subscribe("doc", transport.HandlerFuncs{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Subscribe("doc", transport.HandlerFuncs{}); !errors.Is(err, transport.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v", err)
	}
	if err := client.Send(ctx, "doc", []byte("x")); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send() while disconnected error = %v", err)
	}
	if err := client.SendTo(ctx, "doc", "bob", []byte("x")); !errors.Is(err, transport.ErrUnknownRecipient) {
		t.Errorf("SendTo(bob) error = %v", err)
	}
	cancel()

	client.Close()
	if _, err := client.Subscribe("doc", transport.HandlerFuncs{}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v", err)
	}
}
