package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeTelemetry struct {
	mu      sync.Mutex
	snap    types.TelemetrySnapshot
	status  types.Status
	reading types.GForceReading
	resets  int
	subs    []chan types.Record
}

func (f *fakeTelemetry) Latest() types.TelemetrySnapshot { return f.snap }
func (f *fakeTelemetry) Status() types.Status            { return f.status }
func (f *fakeTelemetry) LastGForce() types.GForceReading { return f.reading }

func (f *fakeTelemetry) ResetPeaks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTelemetry) Subscribe() (<-chan types.Record, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan types.Record, 8)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeTelemetry) subscribers() []chan types.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chan types.Record(nil), f.subs...)
}

type fakeSessions struct {
	sessions  []types.Session
	err       error
	lastLimit int
}

func (f *fakeSessions) RecentSessions(_ context.Context, limit int) ([]types.Session, error) {
	f.lastLimit = limit
	return f.sessions, f.err
}

var testTime = time.Date(2024, 7, 7, 14, 0, 0, 0, time.UTC)

func newTestController(t *testing.T, tel *fakeTelemetry, sessions SessionStore) *Controller {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hm := storage.NewHealthManager()
	hm.ReportHealth("source/f1", storage.StatusHealthy, "open")

	c, err := NewController(ctx, &sync.WaitGroup{}, config.APIData{StreamInterval: "1ns"}, Options{
		Telemetry: tel,
		Sessions:  sessions,
		Health:    hm,
	}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func liveTelemetry() *fakeTelemetry {
	return &fakeTelemetry{
		snap: types.TelemetrySnapshot{
			Throttle: 100, SpeedKPH: 301.5, Gear: 8, RPM: 11800,
			Source: types.SourceUDP, Game: "F1 2024", Timestamp: testTime,
		},
		status: types.Status{Game: "F1 2024", Connection: "F1 Connected", Source: types.SourceUDP, Link: "degraded(2)", Since: testTime},
		reading: types.GForceReading{
			Lateral: -2.1, Longitudinal: 0.05, Total: 2.1,
			MaxLateral: 3.2, MaxLongitudinal: 1.1, MaxTotal: 3.3,
		},
	}
}

func TestGetSnapshot(t *testing.T) {
	c := newTestController(t, liveTelemetry(), nil)
	rec := httptest.NewRecorder()
	c.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got types.TelemetrySnapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(liveTelemetry().snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSnapshotMsgpack(t *testing.T) {
	c := newTestController(t, liveTelemetry(), nil)
	rec := httptest.NewRecorder()
	c.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot?format=msgpack", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/x-msgpack" {
		t.Fatalf("content type = %q", ct)
	}
	var got map[string]any
	if err := msgpack.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["game"] != "F1 2024" {
		t.Errorf("game = %v", got["game"])
	}
}

func TestGetGForce(t *testing.T) {
	c := newTestController(t, liveTelemetry(), nil)
	rec := httptest.NewRecorder()
	c.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gforce", nil))

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"direction": "right", "symbol": "▶"}
	if diff := cmp.Diff(want, got["lateral_direction"]); diff != "" {
		t.Errorf("lateral direction (-want +got):\n%s", diff)
	}
	want = map[string]any{"direction": "neutral", "symbol": "●"}
	if diff := cmp.Diff(want, got["longitudinal_direction"]); diff != "" {
		t.Errorf("longitudinal direction (-want +got):\n%s", diff)
	}
	if got["max_lateral"] != 3.2 {
		t.Errorf("max_lateral = %v", got["max_lateral"])
	}
}

func TestResetPeaks(t *testing.T) {
	tel := liveTelemetry()
	c := newTestController(t, tel, nil)
	router := c.setupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gforce/reset", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gforce/reset", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("POST reset status = %d", rec.Code)
	}
	if tel.resets != 1 {
		t.Errorf("resets = %d", tel.resets)
	}
}

func TestGetStatus(t *testing.T) {
	c := newTestController(t, liveTelemetry(), nil)
	rec := httptest.NewRecorder()
	c.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var got struct {
		Game       string                       `json:"game"`
		Connection string                       `json:"connection"`
		Link       string                       `json:"link"`
		Live       bool                         `json:"live"`
		Health     map[string]config.HealthData `json:"health"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Game != "F1 2024" || got.Connection != "F1 Connected" || !got.Live {
		t.Errorf("status = %+v", got)
	}
	if got.Link != "degraded(2)" {
		t.Errorf("link = %q, want the source's degraded state", got.Link)
	}
	if got.Health["source/f1"].Status != storage.StatusHealthy {
		t.Errorf("health = %+v", got.Health)
	}
}

func TestGetSessions(t *testing.T) {
	tests := []struct {
		name       string
		store      SessionStore
		query      string
		wantCode   int
		wantLimit  int
		wantLength int
	}{
		{name: "no store", query: "", wantCode: http.StatusServiceUnavailable},
		{
			name:       "default limit",
			store:      &fakeSessions{sessions: []types.Session{{ID: "a"}, {ID: "b"}}},
			wantCode:   http.StatusOK,
			wantLimit:  defaultSessionLimit,
			wantLength: 2,
		},
		{
			name:       "clamped limit",
			store:      &fakeSessions{},
			query:      "?limit=100000",
			wantCode:   http.StatusOK,
			wantLimit:  maxSessionLimit,
			wantLength: 0,
		},
		{name: "bad limit", store: &fakeSessions{}, query: "?limit=abc", wantCode: http.StatusBadRequest},
		{name: "store error", store: &fakeSessions{err: errors.New("db down")}, wantCode: http.StatusInternalServerError, wantLimit: defaultSessionLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, liveTelemetry(), tt.store)
			rec := httptest.NewRecorder()
			c.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if fs, ok := tt.store.(*fakeSessions); ok && fs.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", fs.lastLimit, tt.wantLimit)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var got []types.Session
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantLength {
				t.Errorf("got %d sessions", len(got))
			}
		})
	}
}

func TestWebsocketStream(t *testing.T) {
	tel := liveTelemetry()
	c := newTestController(t, tel, nil)
	srv := httptest.NewServer(c.setupRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var subs []chan types.Record
	deadline := time.Now().Add(2 * time.Second)
	for len(subs) == 0 && time.Now().Before(deadline) {
		subs = tel.subscribers()
		time.Sleep(5 * time.Millisecond)
	}
	if len(subs) != 1 {
		t.Fatalf("subscribers = %d", len(subs))
	}
	subs[0] <- types.Record{Snapshot: tel.snap, GForce: tel.reading, SessionID: "s1"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["session_id"] != "s1" {
		t.Errorf("session_id = %v", msg["session_id"])
	}
	snap, _ := msg["snapshot"].(map[string]any)
	if snap["speed_kph"] != 301.5 {
		t.Errorf("snapshot = %v", msg["snapshot"])
	}
	status, _ := msg["status"].(map[string]any)
	if status["connection"] != "F1 Connected" {
		t.Errorf("status = %v", msg["status"])
	}

	close(subs[0])
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func dialBufconn(t *testing.T, c *Controller) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go c.GRPCServer.Serve(lis)
	t.Cleanup(c.GRPCServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCGetSnapshot(t *testing.T) {
	c := newTestController(t, liveTelemetry(), nil)
	conn := dialBufconn(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, GetSnapshotMethod, &emptypb.Empty{}, out); err != nil {
		t.Fatal(err)
	}
	m := out.AsMap()
	if m["game"] != "F1 2024" || m["source"] != "udp" || m["gear"] != float64(8) {
		t.Errorf("snapshot = %v", m)
	}
}

func TestGRPCStreamSnapshots(t *testing.T) {
	tel := liveTelemetry()
	c := newTestController(t, tel, nil)
	conn := dialBufconn(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &TelemetryServiceDesc.Streams[0], StreamSnapshotsMethod)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		t.Fatal(err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}

	var subs []chan types.Record
	for len(subs) == 0 && ctx.Err() == nil {
		subs = tel.subscribers()
		time.Sleep(5 * time.Millisecond)
	}
	if len(subs) == 0 {
		t.Fatal("stream never subscribed")
	}
	subs[0] <- types.Record{Snapshot: tel.snap, SessionID: "s2"}

	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		t.Fatal(err)
	}
	if msg.AsMap()["session_id"] != "s2" {
		t.Errorf("message = %v", msg.AsMap())
	}
}

func TestNewControllerRequiresTelemetry(t *testing.T) {
	if _, err := NewController(context.Background(), &sync.WaitGroup{}, config.APIData{}, Options{}, zap.NewNop().Sugar()); err == nil {
		t.Error("expected error without telemetry")
	}
}

func TestControllerServesHTTPAndGRPCOnOnePort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	c, err := NewController(ctx, &wg, config.APIData{}, Options{
		Telemetry: liveTelemetry(),
		Health:    storage.NewHealthManager(),
	}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	c.serve(l)
	addr := c.Addr().String()

	resp, err := http.Get("http://" + addr + "/api/v1/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	var snap types.TelemetrySnapshot
	err = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if err != nil || snap.Game != "F1 2024" {
		t.Fatalf("HTTP snapshot = %+v, %v", snap, err)
	}

	conn, err := grpc.NewClient("passthrough:///"+addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()
	out := new(structpb.Struct)
	if err := conn.Invoke(rpcCtx, GetSnapshotMethod, &emptypb.Empty{}, out); err != nil {
		t.Fatal(err)
	}
	if out.AsMap()["game"] != "F1 2024" {
		t.Errorf("gRPC snapshot = %v", out.AsMap())
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("controller did not shut down")
	}
}
