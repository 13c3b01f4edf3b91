package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// writeError maps err to a status code and a {success:false} body. Internal
// causes are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "message": apperr.Message(err)})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidArg("malformed request body")
	}
	return nil
}

// pairFromQuery reads ?userA=&userB= and checks the session user is one of
// them.
func pairFromQuery(r *http.Request) (chat.Pair, error) {
	q := r.URL.Query()
	p := chat.Pair{UserA: q.Get("userA"), UserB: q.Get("userB")}
	return p, p.Authorize(middleware.Username(r.Context()))
}

func parseID(s, field string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArg(field + " must be a positive integer")
	}
	return id, nil
}
