package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/annomesh-go/internal/cli/connection"
	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/session"
	"github.com/yndnr/annomesh-go/internal/server/httpserver"
	"github.com/yndnr/annomesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/annomesh-go/internal/transport/wsgateway"
)

type testEnv struct {
	srv        *httptest.Server
	manager    *session.Manager
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{configPath: filepath.Join(t.TempDir(), "cli.yaml")}

	gateway := wsgateway.New(wsgateway.DefaultConfig(), func(ctx context.Context, id string) error {
		_, err := env.manager.Open(ctx, id)
		return err
	})
	env.manager = session.NewManager(gateway, session.DefaultConfig())

	cfg := httpserver.DefaultRouterConfig()
	cfg.Sessions = env.manager
	cfg.Gateway = gateway
	cfg.RateLimit = 0
	env.srv = httptest.NewServer(httpserver.NewRouter(cfg))
	t.Cleanup(func() {
		gateway.Close()
		_ = env.manager.Close(context.Background())
		env.srv.Close()
	})
	return env
}

// seed opens a session holding one rectangle authored by bob.
func (env *testEnv) seed(t *testing.T, id string) *session.Coordinator {
	t.Helper()
	ctx := context.Background()
	c, err := env.manager.Open(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubmitLocal(ctx, "bob", domain.CreateDraft(&domain.Annotation{
		ID:       "ann-1",
		Kind:     domain.KindRectangle,
		Geometry: domain.Geometry{X: 1, Y: 2, Width: 30, Height: 40},
		LayerID:  domain.DefaultLayerID,
		AuthorID: "bob",
	})); err != nil {
		t.Fatal(err)
	}
	return c
}

type result struct {
	out    string
	errOut string
	err    error
}

// run executes the CLI against env with the given stdin.
func (env *testEnv) run(stdin string, args ...string) result {
	app := App()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	argv := append([]string{"annomesh-cli", "--config", env.configPath, "--server", env.srv.URL}, args...)
	err := app.Run(argv)
	return result{out: out.String(), errOut: errOut.String(), err: err}
}

func TestSessionList(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	r := env.run("", "session", "list")
	if r.err != nil {
		t.Fatalf("session list error = %v", r.err)
	}
	for _, want := range []string{"ID", "STATE", "doc", "forming", "Total: 1 sessions"} {
		if !strings.Contains(r.out, want) {
			t.Errorf("output missing %q:\n%s", want, r.out)
		}
	}

	r = env.run("", "-o", "json", "session", "list", "--state", "active")
	if r.err != nil {
		t.Fatal(r.err)
	}
	var got handler.ListSessionsResponse
	if err := json.Unmarshal([]byte(r.out), &got); err != nil {
		t.Fatalf("json output: %v\n%s", err, r.out)
	}
	if got.Total != 0 {
		t.Errorf("active sessions = %d, want 0", got.Total)
	}
}

func TestSessionShow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	r := env.run("", "session", "show", "doc")
	if r.err != nil {
		t.Fatalf("session show error = %v", r.err)
	}
	for _, want := range []string{"annotations", "backlog", "Layers:", "Default"} {
		if !strings.Contains(r.out, want) {
			t.Errorf("output missing %q:\n%s", want, r.out)
		}
	}

	r = env.run("", "session", "show", "missing")
	if !connection.IsNotFound(r.err) {
		t.Errorf("show missing error = %v, want not found", r.err)
	}
	r = env.run("", "session", "show")
	if r.err == nil {
		t.Error("show without an ID succeeded")
	}
}

func TestSessionAnnotations(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	tests := []struct {
		name      string
		args      []string
		wantTotal string
		wantRow   string
	}{
		{"all", nil, "Total: 1 annotations", "(1,2) 30x40"},
		{"default layer", []string{"--layer", domain.DefaultLayerID}, "Total: 1 annotations", "bob"},
		{"other layer", []string{"-l", "lyr-none"}, "Total: 0 annotations", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"session", "annotations"}, tt.args...)
			r := env.run("", append(args, "doc")...)
			if r.err != nil {
				t.Fatalf("error = %v", r.err)
			}
			if !strings.Contains(r.out, tt.wantTotal) || !strings.Contains(r.out, tt.wantRow) {
				t.Errorf("output:\n%s", r.out)
			}
		})
	}
}

func TestSessionSnapshot_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	r := env.run("", "-o", "json", "session", "snapshot", "doc")
	if r.err != nil {
		t.Fatal(r.err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(r.out), &snap); err != nil {
		t.Fatalf("json output: %v\n%s", err, r.out)
	}
	if snap.SessionID != "doc" || len(snap.Annotations) != 1 || snap.Annotations[0].Geometry.Height != 40 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSessionClose(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	r := env.run("n\n", "session", "close", "doc")
	if r.err != nil || !strings.Contains(r.out, "Aborted.") {
		t.Fatalf("declined close: err = %v, out = %q", r.err, r.out)
	}
	if _, ok := env.manager.Get("doc"); !ok {
		t.Fatal("declined close removed the session")
	}

	r = env.run("yes\n", "session", "close", "doc")
	if r.err != nil || !strings.Contains(r.out, "Session doc closed.") {
		t.Fatalf("confirmed close: err = %v, out = %q", r.err, r.out)
	}
	if _, ok := env.manager.Get("doc"); ok {
		t.Error("session still live after close")
	}

	r = env.run("", "session", "close", "--force", "doc")
	if !connection.IsNotFound(r.err) {
		t.Errorf("second close error = %v, want not found", r.err)
	}
}

func TestSystemCommands(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "doc")

	r := env.run("", "-o", "json", "system", "health")
	if r.err != nil {
		t.Fatal(r.err)
	}
	var h HealthStatus
	if err := json.Unmarshal([]byte(r.out), &h); err != nil || h.Status != "healthy" || h.Version == "" {
		t.Errorf("health = %+v (%v)", h, err)
	}

	r = env.run("", "-o", "yaml", "system", "ready")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !strings.Contains(r.out, "status: ready") || !strings.Contains(r.out, "sessions: 1") {
		t.Errorf("ready yaml:\n%s", r.out)
	}

	r = env.run("", "system", "status")
	if r.err != nil {
		t.Fatal(r.err)
	}
	for _, want := range []string{"server_version", "ready", "true", env.srv.URL} {
		if !strings.Contains(r.out, want) {
			t.Errorf("status missing %q:\n%s", want, r.out)
		}
	}
}

func TestSystemStatus_Unreachable(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Close()

	r := env.run("", "system", "status")
	if r.err == nil || !strings.Contains(r.err.Error(), "server unreachable") {
		t.Errorf("status error = %v", r.err)
	}
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)

	if r := env.run("", "config", "path"); strings.TrimSpace(r.out) != env.configPath {
		t.Errorf("config path = %q", r.out)
	}
	if r := env.run("", "config", "set", "output", "json"); r.err != nil {
		t.Fatalf("config set error = %v", r.err)
	}
	if r := env.run("", "config", "set", "timeout", "5s"); r.err != nil {
		t.Fatalf("config set error = %v", r.err)
	}
	if r := env.run("", "config", "get", "timeout"); strings.TrimSpace(r.out) != "5s" {
		t.Errorf("config get timeout = %q", r.out)
	}

	// The saved output setting now applies without -o.
	r := env.run("", "config", "show")
	if r.err != nil {
		t.Fatal(r.err)
	}
	var shown map[string]string
	if err := json.Unmarshal([]byte(r.out), &shown); err != nil {
		t.Fatalf("config show is not json: %v\n%s", err, r.out)
	}
	if shown["output"] != "json" || shown["timeout"] != "5s" {
		t.Errorf("config show = %v", shown)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"config", "set", "color", "red"}},
		{"bad output", []string{"config", "set", "output", "xml"}},
		{"bad timeout", []string{"config", "set", "timeout", "-1s"}},
		{"missing value", []string{"config", "set", "server"}},
		{"get unknown", []string{"config", "get", "color"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r := env.run("", tt.args...); r.err == nil {
				t.Errorf("%v succeeded", tt.args)
			}
		})
	}
}

func TestGlobalFlags_BadOutput(t *testing.T) {
	env := newTestEnv(t)
	if r := env.run("", "-o", "xml", "session", "list"); r.err == nil {
		t.Error("unknown output format accepted")
	}
}

func TestWatch(t *testing.T) {
	env := newTestEnv(t)
	coord := env.seed(t, "doc")

	// Once the watcher has joined, bob draws a second annotation.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for coord.Participants() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		_, _ = coord.SubmitLocal(context.Background(), "bob", domain.CreateDraft(&domain.Annotation{
			ID:       "ann-2",
			Kind:     domain.KindPoint,
			Geometry: domain.Geometry{X: 7, Y: 8},
			LayerID:  domain.DefaultLayerID,
		}))
	}()

	r := env.run("", "-o", "json", "watch", "--participant", "watcher", "--for", "1500ms", "doc")
	if r.err != nil {
		t.Fatalf("watch error = %v\nstderr: %s", r.err, r.errOut)
	}

	var events []WatchEvent
	sc := bufio.NewScanner(strings.NewReader(r.out))
	for sc.Scan() {
		var ev WatchEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Event != "snapshot" || events[0].Annotations != 1 {
		t.Errorf("first event = %+v, want snapshot with 1 annotation", events[0])
	}
	last := events[len(events)-1]
	if last.Event != string(domain.OpCreate) || last.AnnotationID != "ann-2" || last.Origin != "bob" {
		t.Errorf("last event = %+v", last)
	}
	if !strings.Contains(r.errOut, "Joined doc") || !strings.Contains(r.errOut, "events") {
		t.Errorf("stderr = %q", r.errOut)
	}
}

func TestWatch_Unreachable(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Close()

	r := env.run("", "--timeout", "300ms", "watch", "doc")
	if r.err == nil || !strings.Contains(r.err.Error(), "not connected") {
		t.Errorf("watch error = %v", r.err)
	}
	if !strings.Contains(r.errOut, "Could not join doc") {
		t.Errorf("stderr = %q", r.errOut)
	}
}

func TestPrinter_Table(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf, format: "table", now: func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}}

	p.SnapshotLoaded(&domain.Snapshot{SessionID: "doc", Seq: 4, Layers: []*domain.Layer{domain.DefaultLayer()}})
	p.AnnotationChanged("doc", &domain.Operation{Type: domain.OpDelete, AnnotationID: "ann-1", OriginID: "bob", SessionSeq: 5},
		domain.Effect{After: &domain.Annotation{ID: "ann-1", Kind: domain.KindCircle, Geometry: domain.Geometry{X: 1, Y: 1, Radius: 2}}})
	p.LayerChanged("doc", &domain.Layer{ID: "lyr-1", Name: "notes", Locked: true}, true)

	want := []string{
		"03:04:05.000  snapshot  0 annotations, 1 layers at seq 4",
		"03:04:05.000  delete    ann-1 by bob seq 5  circle (1,1) r=2 on default",
		`03:04:05.000  layer-delete  lyr-1 "notes" locked=true visible=false`,
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("lines = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if p.events() != 3 {
		t.Errorf("events() = %d", p.events())
	}
}

func TestGlobalFlags_CAFile(t *testing.T) {
	env := newTestEnv(t)
	r := env.run("", "--ca-file", filepath.Join(t.TempDir(), "missing.pem"), "session", "list")
	if r.err == nil || !strings.Contains(r.err.Error(), "tlsroots") {
		t.Errorf("missing CA file error = %v", r.err)
	}
}
