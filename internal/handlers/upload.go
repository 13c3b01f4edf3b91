package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
	"github.com/pliu/pairchat/internal/uploads"
)

// Multipart parts up to this size are kept in memory.
const maxMemory = 8 << 20

type UploadHandler struct {
	Service  *chat.Service
	Disk     *uploads.Disk
	MaxBytes int64
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.MaxBytes > 0 {
		// Room for the other form fields and multipart framing.
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+1<<20)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, uploads.ErrTooLarge)
			return
		}
		writeError(w, r, apperr.InvalidArg("expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploader := r.FormValue("uploader")
	receiver := r.FormValue("receiver")
	if uploader != middleware.Username(r.Context()) {
		writeError(w, r, apperr.Forbidden("uploader must be the logged in user"))
		return
	}
	if err := (chat.Pair{UserA: uploader, UserB: receiver}).Authorize(uploader); err != nil {
		writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.ErrMissingField("file"))
		return
	}
	defer file.Close()

	blob, err := h.Disk.Save(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.Service.SendFile(r.Context(), chat.Upload{
		Uploader:         uploader,
		Receiver:         receiver,
		OriginalFilename: header.Filename,
		StoredPath:       blob.Path,
		URL:              blob.URL,
		MimeType:         blob.MimeType,
	})
	if err != nil {
		if rerr := h.Disk.Remove(blob.Name); rerr != nil {
			slog.Warn("remove orphaned upload", "name", blob.Name, "err", rerr)
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"id":       msg.ID,
		"url":      blob.URL,
		"filetype": blob.MimeType,
		"name":     header.Filename,
		"message":  msg,
	})
}
