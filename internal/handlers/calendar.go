package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
)

type CalendarHandler struct {
	Service *chat.Service
}

type AddEventRequest struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *CalendarHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	p, err := pairFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, err := h.Service.Events(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": nonNil(events)})
}

func (h *CalendarHandler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var req AddEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := middleware.Username(r.Context())
	p := chat.Pair{UserA: req.UserA, UserB: req.UserB}
	if err := p.Authorize(user); err != nil {
		writeError(w, r, err)
		return
	}

	in := chat.EventInput{Pair: p, Title: req.Title, CreatedBy: user}
	if req.Start == "" {
		writeError(w, r, apperr.ErrMissingField("start"))
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, r, apperr.InvalidArg("start must be an RFC 3339 timestamp"))
		return
	}
	in.Start = start
	if req.End != "" {
		end, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			writeError(w, r, apperr.InvalidArg("end must be an RFC 3339 timestamp"))
			return
		}
		in.End = &end
	}

	ev, err := h.Service.AddEvent(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "event": ev})
}

func (h *CalendarHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
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

	if err := h.Service.DeleteEvent(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
