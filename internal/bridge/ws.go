package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	// tcp is set once the client registers.
	tcp *tcpClient

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
	if c.tcp != nil {
		_ = c.tcp.Close()
	}
}

// wsMessage is the JSON envelope web clients exchange with the bridge.
type wsMessage struct {
	Type       string `json:"type"`
	ToType     string `json:"toType,omitempty"`
	Target     string `json:"target,omitempty"`
	Text       string `json:"text,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Base64     string `json:"base64,omitempty"`
	CallerID   int    `json:"callerId,omitempty"`
	ReceiverID int    `json:"receiverId,omitempty"`
	CallKey    string `json:"callKey,omitempty"`
}

func (b *Bridge) handleWS(c *gin.Context) {
	sid := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "bridge").Str("token", sid).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	go b.writePump(conn)
	b.readPump(conn)
}

func (b *Bridge) writePump(c *wsConn) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "bridge").Msg("writePump write error")
			return
		}
	}
}

func (b *Bridge) readPump(c *wsConn) {
	defer func() {
		if c.tcp != nil {
			b.removeClient(c.tcp.ID())
		}
		c.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleMessage(c, data)
	}
}

func (b *Bridge) handleMessage(c *wsConn, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("bad json")
		return
	}

	switch msg.Type {
	case "register":
		b.handleRegister(c)
	case "message":
		b.handleText(c, msg)
	case "voicenote":
		b.handleVoiceNote(c, msg)
	case "call-start":
		b.handleCallStart(c, msg)
	case "call-accept":
		b.handleCallAccept(msg)
	case "call-end":
		b.handleCallEnd(c, msg)
	default:
		log.Warn().Str("module", "bridge").Str("type", msg.Type).Msg("unknown message type")
	}
}

func (b *Bridge) handleRegister(c *wsConn) {
	tc, err := dialRelay(b.tcpAddr)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("relay dial")
		b.sendJSON(c, gin.H{"type": "error", "message": "No conectado al servidor"})
		return
	}
	c.tcp = tc
	b.addClient(tc.ID(), c)
	b.sendJSON(c, gin.H{"type": "registered", "clientId": tc.ID()})
	go b.forwardLoop(c, tc)
	log.Info().Str("module", "bridge").Int("client_id", tc.ID()).Msg("web client registered")
}

// forwardLoop pushes every relay frame to the web client until the TCP
// side closes.
func (b *Bridge) forwardLoop(c *wsConn, tc *tcpClient) {
	for {
		frame, err := tc.ReadFrame()
		if err != nil {
			c.Close()
			return
		}
		if frame.Voice {
			b.sendJSON(c, gin.H{
				"type":     "voicenote",
				"from":     frame.From,
				"filename": frame.Filename,
				"base64":   base64.StdEncoding.EncodeToString(frame.Data),
			})
			continue
		}
		b.sendJSON(c, gin.H{"type": "server-line", "line": frame.Line})
	}
}

func (b *Bridge) handleText(c *wsConn, msg wsMessage) {
	if c.tcp == nil {
		b.sendJSON(c, gin.H{"type": "error", "message": "No conectado al servidor"})
		return
	}
	var err error
	switch msg.ToType {
	case "user":
		err = c.tcp.SendCommand(fmt.Sprintf("/msg %s %s", msg.Target, msg.Text))
	case "group":
		err = c.tcp.SendCommand(fmt.Sprintf("/msgGroup %s %s", msg.Target, msg.Text))
	default:
		b.sendJSON(c, gin.H{"type": "error", "message": "toType inválido"})
		return
	}
	if err != nil {
		b.sendJSON(c, gin.H{"type": "error", "message": "Error al enviar mensaje"})
	}
}

func (b *Bridge) handleVoiceNote(c *wsConn, msg wsMessage) {
	if c.tcp == nil {
		b.sendJSON(c, gin.H{"type": "error", "message": "No conectado al servidor"})
		return
	}
	if msg.ToType == "" || msg.Target == "" || msg.Base64 == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Base64)
	if err != nil {
		b.sendJSON(c, gin.H{"type": "error", "message": "base64 inválido"})
		return
	}
	kind := "voicenoteUser"
	if msg.ToType == "group" {
		kind = "voicenoteGroup"
	}
	if err := c.tcp.SendVoiceNote(kind, msg.Target, msg.Filename, data); err != nil {
		b.sendJSON(c, gin.H{"type": "error", "message": "Error al enviar nota: " + err.Error()})
		return
	}
	b.sendJSON(c, gin.H{"type": "voicenote-sent", "toType": msg.ToType, "target": msg.Target, "filename": msg.Filename})
}

func (b *Bridge) handleCallStart(c *wsConn, msg wsMessage) {
	callKey := fmt.Sprintf("%d->%d", msg.CallerID, msg.ReceiverID)
	b.mu.Lock()
	b.calls[callKey] = callInfo{CallerID: msg.CallerID, ReceiverID: msg.ReceiverID}
	b.mu.Unlock()
	log.Info().Str("module", "bridge").Str("call", callKey).Msg("call started")

	if receiver, ok := b.client(msg.ReceiverID); ok {
		b.sendJSON(receiver, gin.H{"type": "call-incoming", "callerId": msg.CallerID, "callKey": callKey})
	}
}

func (b *Bridge) handleCallAccept(msg wsMessage) {
	b.mu.Lock()
	call, ok := b.calls[msg.CallKey]
	b.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "bridge").Str("call", msg.CallKey).Msg("call accepted")
	if caller, found := b.client(call.CallerID); found {
		b.sendJSON(caller, gin.H{"type": "call-accepted", "callKey": msg.CallKey})
	}
}

func (b *Bridge) handleCallEnd(c *wsConn, msg wsMessage) {
	b.mu.Lock()
	call, ok := b.calls[msg.CallKey]
	delete(b.calls, msg.CallKey)
	b.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "bridge").Str("call", msg.CallKey).Msg("call ended")

	// Notify whichever side did not hang up.
	other := call.CallerID
	if c.tcp != nil && c.tcp.ID() == call.CallerID {
		other = call.ReceiverID
	}
	if peer, found := b.client(other); found {
		b.sendJSON(peer, gin.H{"type": "call-ended", "callKey": msg.CallKey})
	}
}

func (b *Bridge) sendJSON(c *wsConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Debug().Err(err).Str("module", "bridge").Msg("sendJSON dropped")
	}
}
