package renderer

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/kiosk/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 120 * time.Second
	pingInterval = 45 * time.Second
	maxReadBytes = 1 << 20
)

type outbound struct {
	typ protocol.MessageType
	msg any
}

type client struct {
	hub  *Hub
	send chan outbound
}

// enqueue never blocks; a saturated page drops the message.
func (c *client) enqueue(t protocol.MessageType, msg any) {
	select {
	case c.send <- outbound{typ: t, msg: msg}:
	default:
		c.hub.metrics.ObserveWSMessage("outbound_dropped", string(t))
	}
}

// Serve runs one renderer connection until the page disconnects or ctx ends.
// Writes are single-threaded through the client's queue.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{hub: h, send: make(chan outbound, 256)}
	h.register(c)
	h.logger.Info("renderer connected", slog.Int("clients", h.Clients()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			case out := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(out.msg); err != nil {
					h.logger.Debug("renderer write failed", slog.Any("error", err))
					cancel()
					return
				}
				h.metrics.ObserveWSMessage("outbound", string(out.typ))
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.enqueue(protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "renderer",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		h.metrics.ObserveWSMessage("inbound", string(inboundType(parsed)))
		h.dispatch(ctx, c, parsed)
	}

	cancel()
	<-writerDone
	h.unregister(c)
	h.logger.Info("renderer disconnected", slog.Int("clients", h.Clients()))
}

func inboundType(msg any) protocol.MessageType {
	switch m := msg.(type) {
	case protocol.ClientControl:
		return m.Type
	case protocol.Capabilities:
		return m.Type
	case protocol.Voices:
		return m.Type
	case protocol.VideoMeta:
		return m.Type
	case protocol.VideoEnded:
		return m.Type
	case protocol.RecognitionResult:
		return m.Type
	case protocol.RecognitionError:
		return m.Type
	case protocol.SpeechEnd:
		return m.Type
	default:
		return ""
	}
}
