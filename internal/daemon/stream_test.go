package daemon

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"podscribe/internal/events"
	"podscribe/internal/logging"
)

func dialEvents(t *testing.T, ctx context.Context, serverURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/events" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) events.Event {
	t.Helper()
	var event events.Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("wsjson.Read: %v", err)
	}
	return event
}

func TestEventStreamDeliversAndResumes(t *testing.T) {
	h := newHarness(t)
	server := httptest.NewServer(h.daemon.api.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.hub.Publish(events.Event{Type: events.TaskQueued, TaskID: 1})
	conn := dialEvents(t, ctx, server.URL, "")
	if got := readEvent(t, ctx, conn); got.Sequence != 1 || got.Type != events.TaskQueued {
		t.Fatalf("unexpected first event %+v", got)
	}

	h.hub.Publish(events.Event{Type: events.TaskCompleted, TaskID: 1, Detail: "Garage Origins"})
	if got := readEvent(t, ctx, conn); got.Sequence != 2 || got.Detail != "Garage Origins" {
		t.Fatalf("unexpected live event %+v", got)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	resumed := dialEvents(t, ctx, server.URL, "?since=1")
	if got := readEvent(t, ctx, resumed); got.Sequence != 2 {
		t.Fatalf("expected resume after seq 1, got %+v", got)
	}
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	h := newHarness(t)
	server := httptest.NewServer(h.daemon.api.handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events?since=abc"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

func checkHealth(t *testing.T, addr, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	return resp.GetStatus()
}

func TestDaemonServesGRPCHealth(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if got := checkHealth(t, h.daemon.GRPCAddr(), QueueServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	if got := checkHealth(t, h.daemon.GRPCAddr(), ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING for the server, got %v", got)
	}
}

type switchPinger struct {
	mu  sync.Mutex
	err error
}

func (p *switchPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *switchPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestHealthServerReflectsStorePing(t *testing.T) {
	target := &switchPinger{}
	server := newHealthServer("127.0.0.1:0", target, time.Hour, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.stop()

	if got := checkHealth(t, server.addr(), QueueServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}

	target.set(errors.New("database is locked"))
	server.refresh(ctx)
	if got := checkHealth(t, server.addr(), QueueServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", got)
	}

	target.set(nil)
	server.refresh(ctx)
	if got := checkHealth(t, server.addr(), QueueServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING after recovery, got %v", got)
	}
}

func TestHealthServerDisabledWithoutBind(t *testing.T) {
	server := newHealthServer("", &switchPinger{}, time.Second, nil)
	if err := server.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if server.addr() != "" {
		t.Fatalf("expected no listener, got %q", server.addr())
	}
	server.stop()
}
