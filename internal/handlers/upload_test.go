package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/uploads"
)

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newUploadHandler(t *testing.T, env *testEnv, maxBytes int64) (*UploadHandler, string) {
	t.Helper()
	dir := t.TempDir()
	disk, err := uploads.NewDisk(dir, maxBytes)
	if err != nil {
		t.Fatal(err)
	}
	return &UploadHandler{Service: env.service, Disk: disk, MaxBytes: maxBytes}, dir
}

func TestUpload(t *testing.T) {
	env := setupEnv(t)
	handler, _ := newUploadHandler(t, env, 1<<20)

	req := asUser(multipartUpload(t, map[string]string{"uploader": "alice", "receiver": "bob"},
		"notes.txt", []byte("meeting notes")), "alice")
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Upload).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v (%s)",
			rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp struct {
		Success  bool   `json:"success"`
		ID       int64  `json:"id"`
		URL      string `json:"url"`
		Filetype string `json:"filetype"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Name != "notes.txt" || resp.ID == 0 {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if len(resp.URL) <= len(uploads.URLPrefix) || resp.URL[:len(uploads.URLPrefix)] != uploads.URLPrefix {
		t.Errorf("Expected URL under %s, got %s", uploads.URLPrefix, resp.URL)
	}
	if n := env.hub.count(chat.EventReceiveMessage); n != 1 {
		t.Errorf("Expected the file message to be broadcast, got %d", n)
	}

	history, err := env.service.History(req.Context(), chat.Pair{UserA: "bob", UserB: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Upload == nil || history[0].Upload.OriginalFilename != "notes.txt" {
		t.Errorf("Expected one file message in history, got %+v", history)
	}
}

func TestUploadForbidden(t *testing.T) {
	env := setupEnv(t)
	handler, dir := newUploadHandler(t, env, 1<<20)

	req := asUser(multipartUpload(t, map[string]string{"uploader": "alice", "receiver": "bob"},
		"notes.txt", []byte("x")), "mallory")
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Upload).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusForbidden)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no stored blobs, found %d", len(entries))
	}
}

func TestUploadMissingFile(t *testing.T) {
	env := setupEnv(t)
	handler, _ := newUploadHandler(t, env, 1<<20)

	req := asUser(multipartUpload(t, map[string]string{"uploader": "alice", "receiver": "bob"}, "", nil), "alice")
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Upload).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := setupEnv(t)
	handler, dir := newUploadHandler(t, env, 16)

	req := asUser(multipartUpload(t, map[string]string{"uploader": "alice", "receiver": "bob"},
		"big.bin", bytes.Repeat([]byte("x"), 64)), "alice")
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Upload).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no stored blobs, found %d", len(entries))
	}
	if env.stores.Exists("alice_bob") {
		t.Error("Expected no store to be provisioned")
	}
}
