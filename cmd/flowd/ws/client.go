package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goranjovic55/NOP-sub008/cmd/flowd/stream"
	"github.com/goranjovic55/NOP-sub008/common/logger"
	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum inbound message size (clients only send small control frames)
	maxMessageSize = 512
)

// Upgrader is the shared WebSocket upgrader for the events endpoint.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (TODO: Configure CORS properly in production)
		return true
	},
}

// errInvalidCommand rejects control frames outside pause/resume/cancel.
var errInvalidCommand = errors.New("invalid control command")

// ControlSender routes inbound control frames to a running execution.
// The registry satisfies it.
type ControlSender interface {
	SendControl(executionID string, cmd sdk.ControlCommand) error
}

// controlFrame is the inbound message format: {"command": "pause"}.
type controlFrame struct {
	Command string `json:"command"`
}

// ackFrame is the reply to a control frame.
type ackFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Client bridges one WebSocket connection to an execution's event stream.
// Events flow out as individual JSON frames; control commands flow in.
type Client struct {
	conn        *websocket.Conn
	sub         *stream.Subscription
	executionID string
	control     ControlSender
	log         *logger.Logger

	send chan []byte
	done chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, executionID string, sub *stream.Subscription, control ControlSender, log *logger.Logger) *Client {
	return &Client{
		conn:        conn,
		sub:         sub,
		executionID: executionID,
		control:     control,
		log:         log,
		send:        make(chan []byte, 512),
		done:        make(chan struct{}),
	}
}

// Serve pumps events and control frames until the stream or the peer closes.
// It blocks; the handler calls it on the request goroutine.
func (c *Client) Serve() {
	go c.writePump()
	go c.forwardEvents()
	c.readPump()
}

// forwardEvents marshals stream events onto the outbound channel. When the
// run finishes the stream closes and the connection shuts down cleanly.
func (c *Client) forwardEvents() {
	defer close(c.send)
	for {
		select {
		case event, ok := <-c.sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				c.log.Error("event marshal failed", "execution_id", c.executionID, "error", err)
				continue
			}
			select {
			case c.send <- payload:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound control frames and keeps the connection alive
// through pong handling. It owns connection teardown.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "execution_id", c.executionID, "error", err)
			}
			return
		}
		c.handleControl(message)
	}
}

func (c *Client) handleControl(message []byte) {
	var frame controlFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.ack(frame.Command, err)
		return
	}

	cmd := sdk.ControlCommand(frame.Command)
	if !cmd.Valid() {
		c.ack(frame.Command, errInvalidCommand)
		return
	}

	err := c.control.SendControl(c.executionID, cmd)
	if err != nil {
		c.log.Warn("control command rejected", "execution_id", c.executionID, "command", frame.Command, "error", err)
	} else {
		c.log.Info("control command applied", "execution_id", c.executionID, "command", frame.Command)
	}
	c.ack(frame.Command, err)
}

// ack reports the control outcome back on the same connection.
func (c *Client) ack(command string, err error) {
	reply := ackFrame{Type: "control_ack", Command: command, OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	payload, merr := json.Marshal(reply)
	if merr != nil {
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}

// writePump writes outbound frames and pings. Each event goes out as its
// own text frame so consumers can parse JSON objects individually.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
