package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signoffws/internal/config"
	"signoffws/internal/database"
	"signoffws/internal/metrics"
	"signoffws/internal/poller"
	"signoffws/internal/registry"
	"signoffws/internal/session"
	"signoffws/pkg/types"
)

const testSchema = `
CREATE TABLE change_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL,
	ref_id INTEGER,
	course_id INTEGER,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	payload_json TEXT
);
CREATE TABLE users (user_id INTEGER PRIMARY KEY, name TEXT, role TEXT);
CREATE TABLE ta_assignments (
	ta_assignment_id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id INTEGER,
	student_user_id INTEGER,
	ta_user_id INTEGER,
	started_at TEXT
);`

type harness struct {
	db       *sql.DB
	sessions *session.MemoryStore
	addr     string
}

func startServer(t *testing.T) *harness {
	t.Helper()

	db, dialect, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (user_id, name, role) VALUES
		(7, 'Ada', 'student'), (30, 'Grace', 'ta')`)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.TickInterval = 10 * time.Millisecond
	cfg.Poll.ChangeInterval = 20 * time.Millisecond
	cfg.Poll.TAInterval = 20 * time.Millisecond

	caps := poller.Probe(context.Background(), db, dialect)
	sessions := session.NewMemoryStore()
	sessions.Put("sid-live", &types.User{ID: 7, Name: "Ada", Role: "student"})

	srv := New(cfg,
		registry.New(),
		sessions,
		poller.NewChangeLogPoller(db, dialect, caps, cfg.Poll.ChangeLimit),
		poller.NewTAPoller(db, dialect, caps, cfg.Poll.TALimit),
		metrics.New(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{db: db, sessions: sessions, addr: srv.Addr().String()}
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(
		"ws://"+h.addr+"/ws?"+query,
		http.Header{"Cookie": {"LMSSESSID=sid-live"}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)

	var env envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "event", env.Type)
	return env
}

func TestQueueScopedDelivery(t *testing.T) {
	h := startServer(t)
	_, err := h.db.Exec(`INSERT INTO change_log (id, channel, ref_id) VALUES
		(99, 'queue', 42), (100, 'queue', 42), (101, 'queue', 42)`)
	require.NoError(t, err)

	conn := h.dial(t, "channels=queue&queue_id=42&since=100")

	env := readEvent(t, conn)
	assert.Equal(t, "queue", env.Event)
	var ev types.ChangeEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, int64(101), ev.ID, "rows at or below the since cursor stay hidden")

	// A row for another queue never reaches this connection; the next
	// matching row does.
	_, err = h.db.Exec(`INSERT INTO change_log (id, channel, ref_id) VALUES
		(102, 'queue', 43), (103, 'queue', 42)`)
	require.NoError(t, err)

	env = readEvent(t, conn)
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, int64(103), ev.ID)
	assert.Equal(t, int64(42), ev.RefID)
}

func TestDefaultChannelsAndPayload(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t, "")

	// Default subscription covers rooms and progress but not queue.
	_, err := h.db.Exec(`INSERT INTO change_log (id, channel, ref_id, payload_json) VALUES
		(1, 'queue', 42, NULL),
		(2, 'rooms', 5, '{"status":"open"}')`)
	require.NoError(t, err)

	env := readEvent(t, conn)
	assert.Equal(t, "rooms", env.Event)
	var ev types.ChangeEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, int64(2), ev.ID)
	assert.JSONEq(t, `{"status":"open"}`, string(ev.Payload))
}

func TestTAAcceptDelivery(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t, "channels=ta_accept")

	_, err := h.db.Exec(`INSERT INTO ta_assignments (ta_assignment_id, queue_id, student_user_id, ta_user_id, started_at)
		VALUES (1, 42, 7, 30, '2026-08-01 10:00:00')`)
	require.NoError(t, err)

	env := readEvent(t, conn)
	assert.Equal(t, "ta_accept", env.Event)
	var ev types.TAEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, int64(42), ev.QueueID)
	assert.Equal(t, "Grace", ev.TAName)
	require.NotNil(t, ev.AssignmentID)
	assert.Equal(t, int64(1), *ev.AssignmentID)
}

func TestUnauthorizedWithoutSession(t *testing.T) {
	h := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnauthorizedWithUnknownSession(t *testing.T) {
	h := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws",
		http.Header{"Cookie": {"LMSSESSID=sid-unknown"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsNonGetRequest(t *testing.T) {
	h := startServer(t)

	sock, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Write([]byte("POST /ws HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 4096)
	n, err := sock.Read(buf)
	require.NoError(t, err)
	response := string(buf[:n])
	assert.Contains(t, response, "HTTP/1.1 400")
	assert.Contains(t, response, "Invalid request.")
}

func TestRejectsMissingWebSocketKey(t *testing.T) {
	h := startServer(t)

	sock, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Write([]byte("GET /ws HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 4096)
	n, err := sock.Read(buf)
	require.NoError(t, err)
	response := string(buf[:n])
	assert.Contains(t, response, "HTTP/1.1 400")
	assert.Contains(t, response, "Missing Sec-WebSocket-Key header.")
}

func TestPingGetsPong(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t, "")

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	go func() {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, conn.WriteMessage(websocket.PingMessage, []byte("probe")))

	select {
	case data := <-pong:
		assert.Equal(t, "probe", data)
	case <-time.After(3 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestClientCloseIsAnswered(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestCursorMonotonicAcrossPolls(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t, "channels=progress")

	for i := 1; i <= 3; i++ {
		_, err := h.db.Exec(`INSERT INTO change_log (id, channel, ref_id) VALUES (?, 'progress', 1)`, i)
		require.NoError(t, err)
	}

	var last int64
	for i := 0; i < 3; i++ {
		env := readEvent(t, conn)
		var ev types.ChangeEvent
		require.NoError(t, json.Unmarshal(env.Data, &ev))
		require.Greater(t, ev.ID, last, fmt.Sprintf("event %d delivered out of order", i))
		last = ev.ID
	}
}
