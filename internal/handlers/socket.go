package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
	"github.com/pliu/pairchat/internal/ws"
)

// Client-to-server event names.
const (
	EventJoinChat    = "joinChat"
	EventLeaveChat   = "leaveChat"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"

	eventError = "error"
)

// SocketHandler serves the websocket endpoint and handles the events a
// session sends.
type SocketHandler struct {
	Service *chat.Service
	Hub     *ws.Hub
}

type FileData struct {
	UploadID int64 `json:"uploadId"`
}

type SocketMessage struct {
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Message  string    `json:"message"`
	FileData *FileData `json:"fileData"`
	// Timestamp is accepted for compatibility; the store assigns createdAt.
	Timestamp json.RawMessage `json:"timestamp"`
}

func (h *SocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(h.Hub, h, w, r, middleware.Username(r.Context()))
}

func (h *SocketHandler) HandleEvent(ctx context.Context, c *ws.Client, in ws.Inbound) {
	var err error
	switch in.Event {
	case EventJoinChat, EventLeaveChat:
		err = h.membership(c, in)
	case EventSendMessage:
		err = h.sendMessage(ctx, c, in)
	case EventTyping, EventStopTyping:
		err = h.typing(c, in)
	default:
		err = apperr.InvalidArg("unknown event " + in.Event)
	}
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			slog.Error("socket event", "event", in.Event, "user", c.Username(), "err", err)
		}
		h.Hub.Reply(c, eventError, map[string]any{
			"success": false,
			"event":   in.Event,
			"message": apperr.Message(err),
		})
	}
}

func (h *SocketHandler) membership(c *ws.Client, in ws.Inbound) error {
	var p chat.Pair
	if err := json.Unmarshal(in.Data, &p); err != nil {
		return apperr.InvalidArg("malformed " + in.Event + " payload")
	}
	if err := p.Authorize(c.Username()); err != nil {
		return err
	}
	if in.Event == EventJoinChat {
		h.Hub.Join(c, p.Key())
	} else {
		h.Hub.Leave(c, p.Key())
	}
	return nil
}

func (h *SocketHandler) sendMessage(ctx context.Context, c *ws.Client, in ws.Inbound) error {
	var m SocketMessage
	if err := json.Unmarshal(in.Data, &m); err != nil {
		return apperr.InvalidArg("malformed sendMessage payload")
	}
	if m.Sender != c.Username() {
		return apperr.Forbidden("sender must be the logged in user")
	}
	if m.FileData != nil {
		_, err := h.Service.ShareUpload(ctx, m.Sender, m.Receiver, m.FileData.UploadID)
		return err
	}
	_, err := h.Service.SendText(ctx, m.Sender, m.Receiver, m.Message)
	return err
}

func (h *SocketHandler) typing(c *ws.Client, in ws.Inbound) error {
	var m SocketMessage
	if err := json.Unmarshal(in.Data, &m); err != nil {
		return apperr.InvalidArg("malformed " + in.Event + " payload")
	}
	if m.Sender != c.Username() {
		return apperr.Forbidden("sender must be the logged in user")
	}
	return h.Service.Typing(m.Sender, m.Receiver, in.Event == EventTyping)
}
