package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localclipper/clipper/internal/auth"
	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/registry"
)

type liveView struct {
	hub   *Hub
	reg   *registry.Registry
	auth  *auth.Service
	srv   *httptest.Server
	token string
}

func newLiveView(t *testing.T, configure ...func(*Hub)) *liveView {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	for _, fn := range configure {
		fn(hub)
	}
	go hub.Run(ctx)

	reg := registry.New()
	stop := hub.FollowRegistry(reg)
	t.Cleanup(stop)

	svc, err := auth.NewService("ws-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	token, _ := svc.IssueViewToken("viewer")

	h := NewHandler(hub, svc, reg)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	return &liveView{hub: hub, reg: reg, auth: svc, srv: srv, token: token}
}

func (lv *liveView) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(lv.srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.TotalClients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.TotalClients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_RejectsMissingOrBadToken(t *testing.T) {
	lv := newLiveView(t)

	for _, query := range []string{"", "token=bogus"} {
		resp, err := http.Get(lv.srv.URL + "/ws?" + query)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("query %q: expected 401, got %d", query, resp.StatusCode)
		}
	}
}

func TestHandler_SnapshotThenUpdates(t *testing.T) {
	lv := newLiveView(t)
	lv.reg.Create("j1")

	conn := lv.dial(t, "token="+lv.token)

	snap := readMessage(t, conn)
	if snap.Type != TypeSnapshot || len(snap.Jobs) != 1 || snap.Jobs[0].ID != "j1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	waitForClients(t, lv.hub, 1)
	lv.reg.Update("j1", domain.Job{
		Status: domain.StatusProcessing,
		Steps:  []domain.Step{{Name: "download", Status: "running", Progress: domain.IntPtr(70)}},
	})

	update := readMessage(t, conn)
	if update.Type != TypeJobUpdate || update.Job == nil || update.Job.Status != domain.StatusProcessing {
		t.Fatalf("unexpected update: %+v", update)
	}
	if *update.Job.Steps[0].Progress != 70 {
		t.Errorf("expected progress 70, got %d", *update.Job.Steps[0].Progress)
	}
}

func TestHandler_JobFilter(t *testing.T) {
	lv := newLiveView(t)
	lv.reg.Create("j1")
	lv.reg.Create("j2")

	conn := lv.dial(t, "token="+lv.token+"&job=j2")
	snap := readMessage(t, conn)
	if len(snap.Jobs) != 1 || snap.Jobs[0].ID != "j2" {
		t.Fatalf("expected only j2 in snapshot, got %+v", snap.Jobs)
	}

	waitForClients(t, lv.hub, 1)
	if lv.hub.ClientCount("j2") != 1 {
		t.Errorf("expected client registered under j2")
	}

	lv.reg.Update("j1", domain.Job{Status: domain.StatusReady})
	lv.reg.Update("j2", domain.Job{Status: domain.StatusReady})

	msg := readMessage(t, conn)
	if msg.JobID != "j2" {
		t.Errorf("expected only j2 updates, got %s", msg.JobID)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	var connected, disconnected int
	done := make(chan struct{}, 1)
	lv := newLiveView(t, func(h *Hub) {
		h.OnConnectionChange(func() { connected++ }, func() {
			disconnected++
			done <- struct{}{}
		})
	})

	conn := lv.dial(t, "token="+lv.token)
	readMessage(t, conn)
	waitForClients(t, lv.hub, 1)

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client was never unregistered")
	}
	if lv.hub.TotalClients() != 0 || connected != 1 || disconnected != 1 {
		t.Errorf("unexpected counts: clients=%d connected=%d disconnected=%d", lv.hub.TotalClients(), connected, disconnected)
	}
}

func TestHub_BroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(exited)
	}()
	cancel()
	<-exited

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.BroadcastJob(uint64(i), domain.Job{ID: "j"})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("BroadcastJob blocked on a stopped hub")
	}
}
