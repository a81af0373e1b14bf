/*
Package chat contains the client side of the storefront's live chat.

This file defines the conn struct, one dialed WebSocket connection. It manages
the read and write pumps, heartbeats, and the decoded inbound event stream the
Controller consumes. A conn is single-use: once the read pump exits the inbound
channel closes and the Controller decides whether to reconnect.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"shopsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed to wait for a Pong frame from the backend.
	pongWait = 60 * time.Second

	// frequency at which the client sends a Ping frame.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of an inbound socket frame.
	maxMessageSize = 8192

	// MaxContentBytes is the maximum allowed size (in bytes) of message text.
	MaxContentBytes = 5000

	// buffer size of the outbound send queue.
	sendQueueSize = 64

	// buffer size of the decoded inbound event stream.
	inboundQueueSize = 64
)

// conn wraps one live WebSocket connection.
type conn struct {
	// underlying WebSocket connection object.
	ws *websocket.Conn

	// send is the buffered queue of encoded outbound frames.
	send chan []byte

	// inbound delivers decoded envelopes to the Controller. Closed when the
	// read pump exits, signaling disconnection.
	inbound chan Envelope

	// done signals teardown to the write pump and to enqueue.
	done      chan struct{}
	closeOnce sync.Once

	// structured logger with connection context.
	logger zerolog.Logger
}

// dialConn establishes a WebSocket connection to the given URL and starts both pumps.
func dialConn(ctx context.Context, socketURL string) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chat socket: %w", err)
	}

	c := &conn{
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		inbound: make(chan Envelope, inboundQueueSize),
		done:    make(chan struct{}),
		logger:  logx.Component("chat_conn"),
	}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump reads frames from the connection, decodes them into envelopes, and
// delivers them on the inbound channel. It handles heartbeats (Pong deadlines)
// and closes the inbound channel on exit.
func (c *conn) readPump() {
	defer func() {
		close(c.inbound)

		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in readPump.")
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline.")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Chat socket read failed.")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			// Malformed push payload: logged and dropped, local state untouched.
			c.logger.Warn().Err(err).Bytes("frame", frame).Msg("Backend sent invalid JSON.")
			continue
		}

		// A full backlog with no consumer means the connection is being torn
		// down; parking on the send here would leak the pump.
		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued frames to the connection and sends periodic Ping
// frames to keep the connection alive.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in writePump.")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline.")
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing frame.")
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping.")
				return
			}

			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing ping.")
				return
			}

		case <-c.done:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close frame.")
				}
			}
			return
		}
	}
}

// enqueue queues an encoded frame for writing. A full queue drops the frame
// with a diagnostic rather than blocking the caller.
func (c *conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Send queue full, dropping frame.")
		return fmt.Errorf("send queue full")
	}
}

// close tears the connection down. The read pump notices and closes inbound.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	if err := c.ws.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error.")
	}
}
