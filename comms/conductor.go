// Package comms streams leg telemetry to remote clients and accepts their
// operator commands.
package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CodedInternet/osl/logging"
	"github.com/CodedInternet/osl/onboard"
	"github.com/CodedInternet/osl/onboard/statemachine"
)

const (
	FRAMERATE   = 20
	SEND_BUFFER = 8
	WRITE_WAIT  = time.Second
)

var ErrUnknownCommand = errors.New("unknown command")

// Cmd is an operator command sent by a client as JSON.
type Cmd struct {
	Cmd   string  `json:"cmd"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// Device is the part of the leg a remote client can see and drive.
type Device interface {
	Snapshot() onboard.Snapshot
	Post(ev statemachine.Event) bool
	RequestEstop()
	Reset() error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Conductor struct {
	Device    Device
	Framerate float64
	log       logging.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// Client is one websocket connection. Sends never block the conductor; a
// client that falls behind loses frames.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewConductor(dev Device, log logging.Logger) *Conductor {
	if log == nil {
		log = logging.Noop()
	}
	return &Conductor{
		Device:    dev,
		Framerate: FRAMERATE,
		log:       log,
		clients:   make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (c *Conductor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warnf("[COMMS] upgrade: %v", err)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, SEND_BUFFER)}
	c.add(client)
	defer c.remove(client)

	go client.writePump()

	for {
		var cmd Cmd
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntax *json.SyntaxError
			var mistyped *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &mistyped) {
				client.reply(ReplyPayload{Type: TypeError, Error: "invalid json"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warnf("[COMMS] read: %v", err)
			}
			return
		}

		reply := ReplyPayload{Type: TypeAck, Cmd: cmd.Cmd}
		if err := c.ProcessCommand(cmd); err != nil {
			reply = ReplyPayload{Type: TypeError, Cmd: cmd.Cmd, Error: err.Error()}
		}
		client.reply(reply)
	}
}

// ProcessCommand applies a client command to the device.
func (c *Conductor) ProcessCommand(cmd Cmd) error {
	switch cmd.Cmd {
	case "event":
		if cmd.Name == "" {
			return fmt.Errorf("event needs a name")
		}
		if !c.Device.Post(statemachine.Event(cmd.Name)) {
			return fmt.Errorf("event queue full")
		}
	case "estop":
		c.Device.RequestEstop()
	case "reset":
		return c.Device.Reset()
	default:
		c.log.Warnf("[COMMS] Unable to process command %v", cmd)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Cmd)
	}
	return nil
}

// UpdateClients broadcasts the device snapshot at the frame rate until ctx is
// done.
func (c *Conductor) UpdateClients(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.Framerate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeAll()
			return
		case <-ticker.C:
			if c.Clients() == 0 {
				continue
			}
			c.BroadcastState()
		}
	}
}

// BroadcastState sends the current snapshot to every client.
func (c *Conductor) BroadcastState() {
	msg, err := json.Marshal(StatePayload{Type: TypeState, Snapshot: c.Device.Snapshot()})
	if err != nil {
		c.log.Errorf("[COMMS] marshal state: %v", err)
		return
	}
	c.Broadcast(msg)
}

func (c *Conductor) Broadcast(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client := range c.clients {
		client.queue(msg)
	}
}

func (c *Conductor) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *Conductor) add(client *Client) {
	c.mu.Lock()
	c.clients[client] = struct{}{}
	c.mu.Unlock()
}

func (c *Conductor) remove(client *Client) {
	c.mu.Lock()
	delete(c.clients, client)
	c.mu.Unlock()
	client.close()
}

func (c *Conductor) closeAll() {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[*Client]struct{})
	c.mu.Unlock()
	for client := range clients {
		client.close()
	}
}

func (client *Client) reply(p ReplyPayload) {
	msg, err := json.Marshal(p)
	if err != nil {
		return
	}
	client.queue(msg)
}

func (client *Client) queue(msg []byte) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

func (client *Client) writePump() {
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.conn.Close()
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	client.conn.Close()
}

func (client *Client) close() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}
