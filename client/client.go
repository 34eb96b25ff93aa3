// Package client implements a websocket client for the chat server:
// it dials with a bearer token, tracks per-operation acknowledgments
// by sequence number, and surfaces server events on a channel.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uaroundserver/chatcore/internal/models"
	"github.com/uaroundserver/chatcore/internal/protocol"
)

// Conn is a live connection to a chat server.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	events chan *protocol.Envelope
	done   chan struct{}

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan protocol.Ack

	closeOnce sync.Once
}

// Dial connects to the server's websocket endpoint and performs the
// token handshake. The returned connection is ready once the server's
// auth_ok event arrives on Events.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("handshake rejected: unauthorized")
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, 64),
		events:  make(chan *protocol.Envelope, 64),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan protocol.Ack),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Events returns the stream of server events (message:new, presence
// updates, moderation events and so on). The channel closes when the
// connection dies.
func (c *Conn) Events() <-chan *protocol.Envelope {
	return c.events
}

// Close tears the connection down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		close(c.events)
		c.failPending()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		if env.Type == protocol.TypeAck {
			var ack protocol.Ack
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				continue
			}
			c.settle(ack)
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) settle(ack protocol.Ack) {
	c.mu.Lock()
	ch, ok := c.pending[ack.Seq]
	if ok {
		delete(c.pending, ack.Seq)
	}
	c.mu.Unlock()
	if ok {
		ch <- ack
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan protocol.Ack)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// request sends one operation and waits for its acknowledgment.
func (c *Conn) request(ctx context.Context, eventType protocol.EventType, payload interface{}) (*protocol.Ack, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	ch := make(chan protocol.Ack, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	env := protocol.Envelope{Type: eventType, Seq: seq, Data: raw}
	data, err := json.Marshal(&env)
	if err != nil {
		return nil, err
	}

	select {
	case c.send <- data:
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		if !ack.OK {
			return &ack, fmt.Errorf("%s: %s", ack.Kind, ack.Error)
		}
		return &ack, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send appends a message to the caller's room.
func (c *Conn) Send(ctx context.Context, text string, attachments []models.Attachment, replyTo string) (*protocol.Ack, error) {
	return c.request(ctx, protocol.TypeSend, protocol.SendRequest{
		Text:        text,
		Attachments: attachments,
		ReplyTo:     replyTo,
	})
}

// Edit replaces the text of the caller's own message.
func (c *Conn) Edit(ctx context.Context, id, text string) error {
	_, err := c.request(ctx, protocol.TypeEdit, protocol.EditRequest{ID: id, Text: text})
	return err
}

// Delete soft-deletes a message.
func (c *Conn) Delete(ctx context.Context, id string) error {
	_, err := c.request(ctx, protocol.TypeDelete, protocol.DeleteRequest{ID: id})
	return err
}

// React toggles the caller's emoji reaction on a message.
func (c *Conn) React(ctx context.Context, id, emoji string) error {
	_, err := c.request(ctx, protocol.TypeReact, protocol.ReactRequest{ID: id, Emoji: emoji})
	return err
}

// MarkRead records the caller as having seen the given messages.
func (c *Conn) MarkRead(ctx context.Context, ids []string) error {
	_, err := c.request(ctx, protocol.TypeRead, protocol.ReadRequest{IDs: ids})
	return err
}

// Typing reports the caller's typing state. Fire and forget.
func (c *Conn) Typing(isTyping bool) error {
	raw, err := json.Marshal(protocol.TypingRequest{IsTyping: isTyping})
	if err != nil {
		return err
	}
	env := protocol.Envelope{Type: protocol.TypeTyping, Data: raw}
	data, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// Admin invokes an elevated moderation action against a user.
func (c *Conn) Admin(ctx context.Context, action protocol.EventType, targetID string) error {
	_, err := c.request(ctx, action, protocol.AdminRequest{TargetID: targetID})
	return err
}
