package pairstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/metrics"
	"github.com/pliu/pairchat/internal/models"
)

// Store is the database of one conversation pair.
type Store struct {
	key string
	db  *sql.DB
	now func() time.Time

	// mu serializes message inserts so created_at and id advance together.
	mu     sync.Mutex
	lastAt time.Time
}

type UploadInput struct {
	OriginalFilename string
	StoredPath       string
	URL              string
	MimeType         string
	Uploader         string
}

type EventInput struct {
	Title     string
	Start     time.Time
	End       *time.Time
	CreatedBy string
}

func (s *Store) Key() string { return s.key }

// stamp returns the created_at for the next message. It never goes backwards
// even if the wall clock does. Callers hold s.mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if t.Before(s.lastAt) {
		t = s.lastAt
	}
	return t
}

func storageErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return apperr.Storage(op+" failed", errors.Wrap(err, "pairstore."+op))
}

// AppendMessage inserts a message. A File content must reference an upload
// already recorded in this store.
func (s *Store) AppendMessage(ctx context.Context, sender, receiver string, content models.Content) (*models.Message, error) {
	if content == nil {
		return nil, apperr.ErrMissingField("message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var up *models.Upload
	if f, ok := content.(models.File); ok {
		u, err := s.upload(ctx, s.db, f.UploadID)
		if err != nil {
			return nil, err
		}
		up = u
	}

	m, err := s.insertMessage(ctx, s.db, sender, receiver, content)
	if err != nil {
		return nil, err
	}
	m.Upload = up
	metrics.RecordsWritten.WithLabelValues("message").Inc()
	return m, nil
}

// AppendFile records an upload and the file message that carries it in one
// transaction.
func (s *Store) AppendFile(ctx context.Context, sender, receiver string, in UploadInput) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("AppendFile", err)
	}
	defer tx.Rollback()

	up, err := s.insertUpload(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	m, err := s.insertMessage(ctx, tx, sender, receiver, models.File{UploadID: up.ID})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("AppendFile", err)
	}
	m.Upload = up
	metrics.RecordsWritten.WithLabelValues("upload").Inc()
	metrics.RecordsWritten.WithLabelValues("message").Inc()
	return m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insertMessage(ctx context.Context, db execer, sender, receiver string, content models.Content) (*models.Message, error) {
	at := s.stamp()

	var (
		body     string
		uploadID sql.NullInt64
	)
	switch c := content.(type) {
	case models.Text:
		body = c.Body
	case models.File:
		uploadID = sql.NullInt64{Int64: c.UploadID, Valid: true}
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO messages (sender, receiver, body, type, upload_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sender, receiver, body, string(content.Type()), uploadID, at.UnixNano())
	if err != nil {
		return nil, storageErr("AppendMessage", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("AppendMessage", err)
	}
	// Only advance after the row is in; a failed insert must not move the
	// clock floor forward for later appends.
	s.lastAt = at

	return &models.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: at,
	}, nil
}

// DeleteMessage removes a message by id.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return storageErr("DeleteMessage", err)
	}
	return affected(res, "DeleteMessage", apperr.ErrMessageNotFound)
}

// History returns every message of the pair ordered by created_at, then id.
func (s *Store) History(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender, m.receiver, m.body, m.type, m.upload_id, m.created_at,
			u.original_filename, u.stored_path, u.url, u.mime_type, u.uploader, u.created_at
		FROM messages m
		LEFT JOIN uploads u ON u.id = m.upload_id
		ORDER BY m.created_at ASC, m.id ASC
	`)
	if err != nil {
		return nil, storageErr("History", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			m         models.Message
			body, typ string
			uploadID  sql.NullInt64
			createdAt int64
			name      sql.NullString
			path      sql.NullString
			url       sql.NullString
			mime      sql.NullString
			uploader  sql.NullString
			upAt      sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &body, &typ, &uploadID, &createdAt,
			&name, &path, &url, &mime, &uploader, &upAt); err != nil {
			return nil, storageErr("History", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		if models.MessageType(typ) == models.TypeFile && uploadID.Valid {
			m.Content = models.File{UploadID: uploadID.Int64}
			m.Upload = &models.Upload{
				ID:               uploadID.Int64,
				OriginalFilename: name.String,
				StoredPath:       path.String,
				URL:              url.String,
				MimeType:         mime.String,
				Uploader:         uploader.String,
				CreatedAt:        time.Unix(0, upAt.Int64).UTC(),
			}
		} else {
			m.Content = models.Text{Body: body}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("History", err)
	}
	return messages, nil
}

// RecordUpload stores upload metadata for later linkage from a message.
func (s *Store) RecordUpload(ctx context.Context, in UploadInput) (*models.Upload, error) {
	up, err := s.insertUpload(ctx, s.db, in)
	if err != nil {
		return nil, err
	}
	metrics.RecordsWritten.WithLabelValues("upload").Inc()
	return up, nil
}

func (s *Store) insertUpload(ctx context.Context, db execer, in UploadInput) (*models.Upload, error) {
	at := s.now().UTC()
	res, err := db.ExecContext(ctx,
		"INSERT INTO uploads (original_filename, stored_path, url, mime_type, uploader, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		in.OriginalFilename, in.StoredPath, in.URL, in.MimeType, in.Uploader, at.UnixNano())
	if err != nil {
		return nil, storageErr("RecordUpload", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("RecordUpload", err)
	}
	return &models.Upload{
		ID:               id,
		OriginalFilename: in.OriginalFilename,
		StoredPath:       in.StoredPath,
		URL:              in.URL,
		MimeType:         in.MimeType,
		Uploader:         in.Uploader,
		CreatedAt:        at,
	}, nil
}

// Upload returns the upload with the given id.
func (s *Store) Upload(ctx context.Context, id int64) (*models.Upload, error) {
	return s.upload(ctx, s.db, id)
}

func (s *Store) upload(ctx context.Context, db execer, id int64) (*models.Upload, error) {
	var (
		u  models.Upload
		at int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, original_filename, stored_path, url, mime_type, uploader, created_at FROM uploads WHERE id = ?", id).
		Scan(&u.ID, &u.OriginalFilename, &u.StoredPath, &u.URL, &u.MimeType, &u.Uploader, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUploadNotFound
	}
	if err != nil {
		return nil, storageErr("Upload", err)
	}
	u.CreatedAt = time.Unix(0, at).UTC()
	return &u, nil
}

func (s *Store) AddEvent(ctx context.Context, in EventInput) (*models.Event, error) {
	var end sql.NullInt64
	if in.End != nil {
		end = sql.NullInt64{Int64: in.End.UnixNano(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events (title, start_at, end_at, created_by) VALUES (?, ?, ?, ?)",
		in.Title, in.Start.UnixNano(), end, in.CreatedBy)
	if err != nil {
		return nil, storageErr("AddEvent", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("AddEvent", err)
	}
	metrics.RecordsWritten.WithLabelValues("event").Inc()

	ev := &models.Event{ID: id, Title: in.Title, Start: in.Start.UTC(), CreatedBy: in.CreatedBy}
	if in.End != nil {
		e := in.End.UTC()
		ev.End = &e
	}
	return ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return storageErr("DeleteEvent", err)
	}
	return affected(res, "DeleteEvent", apperr.ErrEventNotFound)
}

// Events returns the calendar ordered by start time.
func (s *Store) Events(ctx context.Context) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, start_at, end_at, created_by FROM events ORDER BY start_at ASC, id ASC")
	if err != nil {
		return nil, storageErr("Events", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			ev    models.Event
			start int64
			end   sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &start, &end, &ev.CreatedBy); err != nil {
			return nil, storageErr("Events", err)
		}
		ev.Start = time.Unix(0, start).UTC()
		if end.Valid {
			e := time.Unix(0, end.Int64).UTC()
			ev.End = &e
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("Events", err)
	}
	return events, nil
}

func (s *Store) AddTask(ctx context.Context, text string) (*models.Task, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO tasks (text, status) VALUES (?, ?)", text, string(models.TaskNotComplete))
	if err != nil {
		return nil, storageErr("AddTask", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("AddTask", err)
	}
	metrics.RecordsWritten.WithLabelValues("task").Inc()
	return &models.Task{ID: id, Text: text, Status: models.TaskNotComplete}, nil
}

func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return storageErr("DeleteTask", err)
	}
	return affected(res, "DeleteTask", apperr.ErrTaskNotFound)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, apperr.ErrInvalidTaskStatus
	}
	var t models.Task
	err := s.db.QueryRowContext(ctx,
		"UPDATE tasks SET status = ? WHERE id = ? RETURNING id, text, status", string(status), id).
		Scan(&t.ID, &t.Text, &t.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrTaskNotFound
	}
	if err != nil {
		return nil, storageErr("UpdateTaskStatus", err)
	}
	return &t, nil
}

func (s *Store) Tasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, text, status FROM tasks ORDER BY id ASC")
	if err != nil {
		return nil, storageErr("Tasks", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Text, &t.Status); err != nil {
			return nil, storageErr("Tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("Tasks", err)
	}
	return tasks, nil
}

func affected(res sql.Result, op string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
