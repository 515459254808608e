package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub       Hub
	log       *zerolog.Logger
	readLimit int64
	rate      float64
	burst     int
}

// NewWSHandler builds a new WebSocket handler. readLimit caps a single frame in bytes; a
// non-positive perSecond disables inbound rate limiting.
func NewWSHandler(hub Hub, logger *zerolog.Logger, readLimit int64, perSecond float64, burst int) *WSHandler {
	return &WSHandler{hub: hub, log: logger, readLimit: readLimit, rate: perSecond, burst: burst}
}

// serve runs one connection. authUserID, when set, is the only user id the connection may act as.
func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, authUserID string) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	client := core.NewClient(utils.NewID(), authUserID)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	logger := h.log.With().Str("client_id", client.ID).Str("auth_user_id", authUserID).Logger()
	logger.Debug().Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	_ = conn.Close(status, reason)
	logger.Debug().Msg("ws disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.rate, h.burst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("read ws inbound")
			return err
		}
		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			if err := wsjson.Write(ctx, conn, errorFrame(core.ErrCodeInvalidMessage, "malformed frame")); err != nil {
				return err
			}
			continue
		}

		cmd, reply := inboundToCommand(inbound)
		if reply == nil && cmd.Kind != core.CommandPing && !allow(limiter) {
			reply = rejectFrame(cmd, core.ErrCodeRateLimited, "too many messages")
		}
		if reply != nil {
			logger.Debug().Str("event", inbound.Event).Msg("inbound rejected")
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
