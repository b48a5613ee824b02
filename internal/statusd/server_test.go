package statusd

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/taskvault/taskvault/internal/engine"
	"github.com/taskvault/taskvault/internal/remote"
	"github.com/taskvault/taskvault/internal/store"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(&Config{Addr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return s
}

func dialTestClient(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})

	// Wait for the server to register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.ClientCount() == 0 {
		t.Fatal("server never registered the client")
	}
	return conn
}

// readUntil reads frames until one matches the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed waiting for %q: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestClient(t, s)

	s.Broadcast(newMessage(MessageTypeStatus, engine.Snapshot{Status: engine.StatusIdle}))

	msg := readUntil(t, conn, MessageTypeStatus)
	var snap engine.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	if snap.Status != engine.StatusIdle {
		t.Errorf("status = %q", snap.Status)
	}
	if msg.Timestamp.IsZero() {
		t.Error("message has no timestamp")
	}
}

func TestSnapshotReplayedToNewClient(t *testing.T) {
	s := startTestServer(t)

	s.publish(engine.Snapshot{Status: engine.StatusSynced, Online: true})

	conn := dialTestClient(t, s)
	msg := readUntil(t, conn, MessageTypeStatus)

	var snap engine.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != engine.StatusSynced || !snap.Online {
		t.Errorf("replayed snapshot = %+v", snap)
	}
}

func TestPublishDerivesEventStream(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestClient(t, s)

	s.publish(engine.Snapshot{Status: engine.StatusIdle})
	s.publish(engine.Snapshot{
		Status: engine.StatusQueued,
		Queue:  engine.QueueStatus{Count: 1, Oldest: time.Now()},
	})

	// The idle snapshot carries an empty queue and must not produce a
	// queue frame, so the first one read reflects the enqueued save.
	queueMsg := readUntil(t, conn, MessageTypeQueue)
	var q engine.QueueStatus
	if err := json.Unmarshal(queueMsg.Data, &q); err != nil {
		t.Fatal(err)
	}
	if q.Count != 1 {
		t.Errorf("queue count = %d", q.Count)
	}

	s.publish(engine.Snapshot{Status: engine.StatusConflict, HasConflict: true})
	readUntil(t, conn, MessageTypeConflict)

	s.publish(engine.Snapshot{Status: engine.StatusSynced, LastSyncTime: time.Now()})
	readUntil(t, conn, MessageTypeSyncComplete)
}

func TestConflictEmittedOncePerBundle(t *testing.T) {
	s := startTestServer(t)

	s.publish(engine.Snapshot{Status: engine.StatusConflict, HasConflict: true})
	// Same pending bundle observed again: no second conflict event.
	s.publish(engine.Snapshot{Status: engine.StatusConflict, HasConflict: true})

	conn := dialTestClient(t, s)
	s.publish(engine.Snapshot{Status: engine.StatusSyncing, HasConflict: false})
	s.publish(engine.Snapshot{Status: engine.StatusConflict, HasConflict: true})

	readUntil(t, conn, MessageTypeConflict)
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("health body = %+v", body)
	}
}

// nopStore satisfies remote.Store with an always-empty remote.
type nopStore struct{}

func (nopStore) Stat(context.Context) (remote.Metadata, error) {
	return remote.Metadata{}, remote.NewError(remote.KindNotFound, "statDocument", context.Canceled)
}
func (nopStore) Read(context.Context) ([]byte, remote.Metadata, error) {
	return nil, remote.Metadata{}, remote.NewError(remote.KindNotFound, "readDocument", context.Canceled)
}
func (nopStore) Write(_ context.Context, data []byte) (remote.Metadata, error) {
	return remote.Metadata{LastModified: "t1"}, nil
}
func (nopStore) WriteBlob(context.Context, string, []byte) (string, error) { return "", nil }
func (nopStore) BlobURL(context.Context, string) (string, error)           { return "", nil }
func (nopStore) DeleteBlob(context.Context, string) error                  { return nil }
func (nopStore) ListBlobs(context.Context) ([]string, error)               { return nil, nil }

func newIdleEngine(t *testing.T) *engine.Engine {
	t.Helper()
	remote.ResetCache()
	t.Cleanup(remote.ResetCache)

	eng, err := engine.New(remote.NewGateway(nopStore{}, nil, nil), store.NewMemory(), nil, nil)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestEngineAttach(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestClient(t, s)

	eng := newIdleEngine(t)
	s.Attach(eng)

	msg := readUntil(t, conn, MessageTypeStatus)
	var snap engine.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != engine.StatusIdle {
		t.Errorf("initial engine status = %q", snap.Status)
	}
}
