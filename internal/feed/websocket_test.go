package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/kb"
)

const (
	validMessage   = `{"type":"ism","data":{"epoch":"2024-03-01T12:00:00Z","satellites":{"GPS01":{"sigma_ura":1,"sigma_ure":0.5,"max_bias":0.75,"p_sat":1e-5}},"constellations":{"GPS":1e-8}}}`
	invalidMessage = `{"type":"ism","data":{"epoch":"2024-03-01T12:00:05Z","satellites":{"GPS01":{"sigma_ura":1,"sigma_ure":0.5,"max_bias":0.75,"p_sat":7}}}}`
	staleMessage   = `{"type":"ism","data":{"epoch":"2024-03-01T11:59:00Z","satellites":{}}}`
)

// feedServer writes messages on each connection and then closes it.
func feedServer(t *testing.T, messages ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientStoresValidMessages(t *testing.T) {
	srv, conns := feedServer(t, validMessage, invalidMessage, staleMessage, `{"type":"hello"}`)
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewFDECollector(reg)
	if err != nil {
		t.Fatalf("NewFDECollector: %v", err)
	}
	catalog := kb.NewCatalog()
	client := NewClient(wsURL(srv), catalog,
		WithMetrics(metrics),
		WithReconnectDelay(10*time.Millisecond, 20*time.Millisecond),
		WithMaxAge(time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitFor(t, func() bool { return conns.Load() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	stats := client.Stats()
	if stats.Accepted == 0 || stats.Rejected < 3 || stats.Reconnects == 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := testutil.ToFloat64(metrics.FeedMessages.WithLabelValues("rejected")); got < 3 {
		t.Fatalf("rejected metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.FeedReconnects); got == 0 {
		t.Fatalf("reconnect metric not incremented")
	}

	epoch := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	ism, err := client.ISM(context.Background(), epoch)
	if err != nil {
		t.Fatalf("ISM: %v", err)
	}
	if s, ok := ism.Satellite("GPS01"); !ok || s.PSat != 1e-5 {
		t.Fatalf("stored ISM entry = %+v, %v", s, ok)
	}
	if _, err := client.ISM(context.Background(), epoch.Add(time.Hour)); !errors.Is(err, ErrNoISM) {
		t.Fatalf("expired ISM err = %v, want ErrNoISM", err)
	}
}

func TestClientWithoutMessages(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", kb.NewCatalog())
	if _, err := client.ISM(context.Background(), time.Now()); !errors.Is(err, ErrNoISM) {
		t.Fatalf("err = %v, want ErrNoISM", err)
	}
}

func TestClientStopsWhileDialFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", kb.NewCatalog(), WithReconnectDelay(time.Hour, time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if client.Stats().Connected {
		t.Fatalf("client reports connected")
	}
}
