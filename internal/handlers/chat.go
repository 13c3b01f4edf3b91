package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
)

type ChatHandler struct {
	Service *chat.Service
}

type SendMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Sender != middleware.Username(r.Context()) {
		writeError(w, r, apperr.Forbidden("sender must be the logged in user"))
		return
	}

	msg, err := h.Service.SendText(r.Context(), req.Sender, req.Receiver, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": msg.ID, "message": msg})
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := chat.Pair{UserA: q.Get("sender"), UserB: q.Get("receiver")}
	if err := p.Authorize(middleware.Username(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}

	messages, err := h.Service.History(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": nonNil(messages)})
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := parseID(mux.Vars(r)["id"], "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Service.DeleteMessage(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Service.Chats(r.Context(), middleware.Username(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chats": nonNil(chats)})
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Service.DeleteChat(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
