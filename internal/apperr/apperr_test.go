package apperr

import (
	"database/sql"
	"net/http"
	"testing"

	"github.com/pkg/errors"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", ErrMissingField("sender"), http.StatusBadRequest},
		{"not found", ErrTaskNotFound, http.StatusNotFound},
		{"conflict", ErrUsernameTaken, http.StatusConflict},
		{"unauthorized", ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", ErrNotParticipant, http.StatusForbidden},
		{"storage", Storage("insert message", sql.ErrConnDone), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrappedCodeSurvives(t *testing.T) {
	err := errors.Wrap(ErrEventNotFound, "pairstore.DeleteEvent")
	if !IsNotFound(err) {
		t.Errorf("expected not-found code through wrap, got %s", CodeOf(err))
	}
	if !errors.Is(err, ErrEventNotFound) {
		t.Error("expected errors.Is to match sentinel")
	}
	if Message(err) != "event not found" {
		t.Errorf("unexpected message %q", Message(err))
	}
}

func TestInternalMessageHidesCause(t *testing.T) {
	err := Storage("open conversation store", errors.New("permission denied: /secret/path"))
	if Message(err) != "open conversation store" {
		t.Errorf("unexpected message %q", Message(err))
	}
	if Message(errors.New("raw")) != "internal error" {
		t.Error("expected generic message for uncoded error")
	}
}
