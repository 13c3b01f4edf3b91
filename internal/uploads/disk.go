// Package uploads stores uploaded file blobs on local disk.
package uploads

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/metrics"
)

// URLPrefix is the path under which stored blobs are served.
const URLPrefix = "/uploads/"

var ErrTooLarge = apperr.InvalidArg("file exceeds the upload size limit")

// Blob describes a stored file.
type Blob struct {
	Name     string // generated file name inside the upload directory
	Path     string
	URL      string
	MimeType string
	Size     int64
}

type Disk struct {
	dir      string
	maxBytes int64
}

func NewDisk(dir string, maxBytes int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "uploads.NewDisk")
	}
	return &Disk{dir: dir, maxBytes: maxBytes}, nil
}

func (d *Disk) Dir() string { return d.dir }

// Save writes r under a generated name that keeps the extension of
// originalName. mimeType is sniffed from the content when empty or generic.
// Nothing is left on disk if Save fails.
func (d *Disk) Save(r io.Reader, originalName, mimeType string) (*Blob, error) {
	name := uuid.NewString() + cleanExt(originalName)
	path := filepath.Join(d.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, apperr.Storage("store upload", errors.Wrap(err, "uploads.Save.Create"))
	}

	var head [512]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		os.Remove(path)
		return nil, apperr.Storage("store upload", errors.Wrap(err, "uploads.Save.Read"))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniff(head[:n], originalName)
	}

	src := io.MultiReader(bytes.NewReader(head[:n]), r)
	if d.maxBytes > 0 {
		src = io.LimitReader(src, d.maxBytes+1)
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, apperr.Storage("store upload", errors.Wrap(err, "uploads.Save.Write"))
	}
	if d.maxBytes > 0 && size > d.maxBytes {
		os.Remove(path)
		return nil, ErrTooLarge
	}
	metrics.UploadBytes.Add(float64(size))

	return &Blob{
		Name:     name,
		Path:     path,
		URL:      URLPrefix + name,
		MimeType: mimeType,
		Size:     size,
	}, nil
}

// Remove deletes a stored blob by name.
func (d *Disk) Remove(name string) error {
	if name != filepath.Base(name) {
		return apperr.InvalidArg("invalid upload name")
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !os.IsNotExist(err) {
		return apperr.Storage("remove upload", errors.Wrap(err, "uploads.Remove"))
	}
	return nil
}

// Handler serves stored blobs under URLPrefix.
func (d *Disk) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(http.Dir(d.dir)))
}

func cleanExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func sniff(head []byte, name string) string {
	if t := mime.TypeByExtension(cleanExt(name)); t != "" {
		return t
	}
	return http.DetectContentType(head)
}
