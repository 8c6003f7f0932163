package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/stream"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

type fakeControl struct {
	mu   sync.Mutex
	cmds []sdk.ControlCommand
}

func (f *fakeControl) SendControl(executionID string, cmd sdk.ControlCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeControl) commands() []sdk.ControlCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sdk.ControlCommand{}, f.cmds...)
}

func wsServer(t *testing.T, streamer *stream.Streamer, control ControlSender) *httptest.Server {
	t.Helper()
	log := logger.New("error", "text")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, "exec-1", streamer.Subscribe(), control, log).Serve()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsFlowToPeer(t *testing.T) {
	streamer := stream.New(16)
	srv := wsServer(t, streamer, &fakeControl{})
	conn := dial(t, srv)

	streamer.Emit(sdk.Event{Type: sdk.EventNodeStart, NodeID: "ping"})
	streamer.Emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: "ping"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second sdk.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, sdk.EventNodeStart, first.Type)
	assert.Equal(t, sdk.EventNodeComplete, second.Type)
	assert.Equal(t, "ping", second.NodeID)
}

func TestControlFrameReachesRegistry(t *testing.T) {
	streamer := stream.New(16)
	control := &fakeControl{}
	srv := wsServer(t, streamer, control)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "pause"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ackFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "control_ack", ack.Type)
	assert.Equal(t, "pause", ack.Command)
	assert.True(t, ack.OK)

	assert.Equal(t, []sdk.ControlCommand{sdk.ControlPause}, control.commands())
}

func TestInvalidControlFrameRejected(t *testing.T) {
	streamer := stream.New(16)
	control := &fakeControl{}
	srv := wsServer(t, streamer, control)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "explode"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ackFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)
	assert.Empty(t, control.commands())
}

func TestStreamCloseEndsConnection(t *testing.T) {
	streamer := stream.New(16)
	srv := wsServer(t, streamer, &fakeControl{})
	conn := dial(t, srv)

	streamer.Emit(sdk.Event{Type: sdk.EventComplete})
	streamer.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var final sdk.Event
	require.NoError(t, conn.ReadJSON(&final))
	assert.Equal(t, sdk.EventComplete, final.Type)

	_, raw, err := conn.ReadMessage()
	if err == nil {
		// Tolerate a trailing frame if the close raced an event.
		var extra map[string]interface{}
		_ = json.Unmarshal(raw, &extra)
		_, _, err = conn.ReadMessage()
	}
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
