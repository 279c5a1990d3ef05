package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/services"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	sendBuffer   = 32
	frameTimeout = 10 * time.Second
)

// Conn is the part of a websocket connection the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatActions are the operations a client may perform over its socket.
type ChatActions interface {
	SendMessage(ctx context.Context, actorID int64, conversationID int64, body string) (*models.ChatMessage, error)
	MarkAsRead(ctx context.Context, actorID int64, conversationID int64) (*models.ReadReceipt, error)
}

type Client struct {
	id      string
	hub     *Hub
	conn    Conn
	userID  int64
	send    chan []byte
	closed  chan struct{}
	written chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     zerolog.Logger
}

type inboundFrame struct {
	Type           string `json:"type"`
	Ref            string `json:"ref,omitempty"`
	ConversationID int64  `json:"conversation_id"`
	Body           string `json:"body"`
}

type replyFrame struct {
	Type  string `json:"type"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewClient binds conn to userID. perSecond caps inbound frames; zero or less
// disables the limit.
func NewClient(hub *Hub, conn Conn, userID int64, perSecond float64) *Client {
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}

	id := uuid.NewString()
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
		written: make(chan struct{}),
		limiter: rate.NewLimiter(limit, burst),
		log:     hub.log.With().Str("client_id", id).Int64("user_id", userID).Logger(),
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// enqueue never blocks. It reports false when the client is closed or its
// buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Serve runs both pumps on the connection. It returns only after WritePump
// has stopped, so the caller may release conn afterwards.
func (c *Client) Serve(ctx context.Context, actions ChatActions) {
	go c.WritePump()
	c.ReadPump(ctx, actions)
	c.close()
	<-c.written
}

// ReadPump handles inbound frames until the connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, actions ChatActions) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.reply(replyFrame{Type: "error", Error: "invalid frame payload"})
			continue
		}
		if !c.limiter.Allow() {
			c.reply(replyFrame{Type: "error", Ref: frame.Ref, Error: "rate limit exceeded"})
			continue
		}

		c.reply(c.handle(ctx, actions, frame))
	}
}

func (c *Client) handle(ctx context.Context, actions ChatActions, frame inboundFrame) replyFrame {
	if frame.Type != "message" && frame.Type != "read" {
		return replyFrame{Type: "error", Ref: frame.Ref, Error: "unsupported frame type"}
	}
	if frame.ConversationID <= 0 {
		return replyFrame{Type: "error", Ref: frame.Ref, Error: "invalid conversation id"}
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	var (
		data any
		err  error
	)
	if frame.Type == "message" {
		data, err = actions.SendMessage(ctx, c.userID, frame.ConversationID, frame.Body)
	} else {
		data, err = actions.MarkAsRead(ctx, c.userID, frame.ConversationID)
	}
	if err != nil {
		return replyFrame{Type: "error", Ref: frame.Ref, Error: c.describe(err)}
	}
	return replyFrame{Type: "ack", Ref: frame.Ref, Data: data}
}

func (c *Client) describe(err error) string {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.Is(err, services.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	default:
		c.log.Error().Err(err).Msg("websocket frame failed")
		return "failed to process frame"
	}
}

func (c *Client) reply(frame replyFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("encode reply frame")
		return
	}
	if !c.enqueue(payload) {
		c.log.Debug().Str("type", frame.Type).Msg("reply dropped")
	}
}

// WritePump writes queued payloads until the client is closed. It must run at
// most once per client.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
		close(c.written)
	}()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
