package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"easytrack/internal/notifier"
	rtsup "easytrack/internal/runtime/supervisor"
	"easytrack/internal/scheduler"
	logx "easytrack/pkg/logx"
)

type fakeScheduler struct {
	state    scheduler.State
	triggers int
}

func (f *fakeScheduler) State() scheduler.State { return f.state }

func (f *fakeScheduler) Snapshot(context.Context) scheduler.Snapshot {
	return scheduler.Snapshot{State: f.state, Tick: time.Minute, Ticks: 3}
}

func (f *fakeScheduler) Trigger(context.Context) (scheduler.TickReport, error) {
	if f.state != scheduler.StateRunning {
		return scheduler.TickReport{}, scheduler.ErrNotRunning
	}
	f.triggers++
	return scheduler.TickReport{TickID: "t-1", Sent: 2}, nil
}

func (f *fakeScheduler) Supervised() []rtsup.TaskStats {
	return []rtsup.TaskStats{{Name: "scheduler.loop", Running: 1, Starts: 1}}
}

type fakeNotifier struct{}

func (fakeNotifier) Counters() notifier.Counters { return notifier.Counters{Sent: 5, Failed: 1} }

func (fakeNotifier) Recent() []notifier.Result {
	return []notifier.Result{{ScheduleID: 1, OwnerID: 1, Status: notifier.StatusFailed, Err: errors.New("chat not found")}}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		state scheduler.State
		ping  error
		want  int
	}{
		{name: "running", state: scheduler.StateRunning, want: http.StatusOK},
		{name: "stopped", state: scheduler.StateStopped, want: http.StatusServiceUnavailable},
		{name: "store down", state: scheduler.StateRunning, ping: errors.New("closed"), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := New(Config{Token: "secret"}, &fakeScheduler{state: tt.state}, fakeNotifier{}, fakePinger{tt.ping}, logx.Nop())
			if rec := do(t, svc.Handler(), http.MethodGet, "/healthz", ""); rec.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStatusRequiresToken(t *testing.T) {
	t.Parallel()
	svc := New(Config{Token: "secret"}, &fakeScheduler{state: scheduler.StateRunning}, fakeNotifier{}, fakePinger{}, logx.Nop())
	h := svc.Handler()

	if rec := do(t, h, http.MethodGet, "/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/status?token=wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/status", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var doc struct {
		Scheduler struct {
			State string `json:"state"`
			Ticks int    `json:"ticks"`
		} `json:"scheduler"`
		Counters struct {
			Sent int `json:"sent"`
		} `json:"counters"`
		Recent []struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"recent"`
		Tasks []rtsup.TaskStats `json:"tasks"`
		Store string            `json:"store"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, rec.Body.String())
	}
	if doc.Scheduler.State != "running" || doc.Scheduler.Ticks != 3 || doc.Counters.Sent != 5 || doc.Store != "ok" {
		t.Fatalf("doc = %+v", doc)
	}
	if len(doc.Recent) != 1 || doc.Recent[0].Error != "chat not found" || len(doc.Tasks) != 1 {
		t.Fatalf("recent = %+v tasks = %+v", doc.Recent, doc.Tasks)
	}
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{state: scheduler.StateRunning}

	disabled := New(Config{}, sched, nil, nil, logx.Nop()).Handler()
	if rec := do(t, disabled, http.MethodPost, "/tick", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("trigger disabled: %d", rec.Code)
	}

	h := New(Config{AllowTrigger: true}, sched, nil, nil, logx.Nop()).Handler()
	rec := do(t, h, http.MethodPost, "/tick", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tick_id": "t-1"`) || sched.triggers != 1 {
		t.Fatalf("trigger: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/tick", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /tick: %d", rec.Code)
	}

	sched.state = scheduler.StateStopped
	if rec := do(t, h, http.MethodPost, "/tick", ""); rec.Code != http.StatusConflict {
		t.Fatalf("stopped trigger: %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, &fakeScheduler{state: scheduler.StateRunning}, nil, nil, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := svc.Addr()
	if addr == "" {
		t.Fatal("no listen address")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.Addr() != "" {
		t.Fatal("address kept after stop")
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8081": true,
		"localhost:80":   true,
		"[::1]:9":        true,
		":8081":          false,
		"0.0.0.0:8081":   false,
		"bogus":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
