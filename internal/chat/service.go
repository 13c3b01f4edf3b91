// Package chat composes conversation persistence with realtime broadcast.
//
// Every client action goes through a Service method that validates input,
// resolves the pair key, writes to the pair's store and only then emits the
// result to the pair's broadcast group. A failed write emits nothing.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/models"
	"github.com/pliu/pairchat/internal/pair"
	"github.com/pliu/pairchat/internal/store"
	"github.com/pliu/pairchat/internal/store/pairstore"
)

// Server-to-client event names.
const (
	EventReceiveMessage    = "receiveMessage"
	EventMessageDeleted    = "messageDeleted"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventTaskAdded         = "taskAdded"
	EventTaskDeleted       = "taskDeleted"
	EventTaskStatusUpdated = "taskStatusUpdated"
	EventEventAdded        = "eventAdded"
	EventEventDeleted      = "eventDeleted"
	EventChatDeleted       = "chatDeleted"
	EventUpdateChatList    = "updateChatList"
)

// Broadcaster fans events out to connected sessions.
type Broadcaster interface {
	Emit(room, event string, payload any)
	EmitToUser(user, event string, payload any)
}

// Stores resolves the conversation store of a pair.
type Stores interface {
	Open(ctx context.Context, key string) (*pairstore.Store, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	Stores    Stores
	Directory store.Directory
	Hub       Broadcaster
}

func New(stores Stores, dir store.Directory, hub Broadcaster) *Service {
	return &Service{Stores: stores, Directory: dir, Hub: hub}
}

// Pair identifies a conversation by its participants.
type Pair struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

func (p Pair) Key() string { return pair.Key(p.UserA, p.UserB) }

func (p Pair) validate() error {
	if strings.TrimSpace(p.UserA) == "" {
		return apperr.ErrMissingField("userA")
	}
	if strings.TrimSpace(p.UserB) == "" {
		return apperr.ErrMissingField("userB")
	}
	if !pair.ValidIdentity(p.UserA) || !pair.ValidIdentity(p.UserB) {
		return apperr.ErrInvalidUsername
	}
	return nil
}

// Authorize checks that actor is one of the participants of p.
func (p Pair) Authorize(actor string) error {
	if err := p.validate(); err != nil {
		return err
	}
	if actor != p.UserA && actor != p.UserB {
		return apperr.ErrNotParticipant
	}
	return nil
}

func (s *Service) open(ctx context.Context, p Pair) (*pairstore.Store, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.Stores.Open(ctx, p.Key())
}

// SendText persists a text message and broadcasts it to the pair.
func (s *Service) SendText(ctx context.Context, sender, receiver, body string) (*models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperr.ErrMissingField("message")
	}
	return s.send(ctx, sender, receiver, models.Text{Body: body})
}

// ShareUpload sends a new file message for an upload already recorded in the
// pair's store.
func (s *Service) ShareUpload(ctx context.Context, sender, receiver string, uploadID int64) (*models.Message, error) {
	if uploadID <= 0 {
		return nil, apperr.ErrMissingField("fileData.uploadId")
	}
	return s.send(ctx, sender, receiver, models.File{UploadID: uploadID})
}

func (s *Service) send(ctx context.Context, sender, receiver string, content models.Content) (*models.Message, error) {
	p := Pair{UserA: sender, UserB: receiver}
	if strings.TrimSpace(sender) == "" {
		return nil, apperr.ErrMissingField("sender")
	}
	if strings.TrimSpace(receiver) == "" {
		return nil, apperr.ErrMissingField("receiver")
	}
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	msg, err := st.AppendMessage(ctx, sender, receiver, content)
	if err != nil {
		slog.Error("append message", "pair", p.Key(), "err", err)
		return nil, err
	}
	s.afterMessage(ctx, p.Key(), msg)
	return msg, nil
}

// Upload is the metadata of a blob already written to upload storage.
type Upload struct {
	Uploader         string
	Receiver         string
	OriginalFilename string
	StoredPath       string
	URL              string
	MimeType         string
}

// SendFile records an upload together with its file message and broadcasts
// the message.
func (s *Service) SendFile(ctx context.Context, up Upload) (*models.Message, error) {
	if strings.TrimSpace(up.Uploader) == "" {
		return nil, apperr.ErrMissingField("uploader")
	}
	if strings.TrimSpace(up.Receiver) == "" {
		return nil, apperr.ErrMissingField("receiver")
	}
	p := Pair{UserA: up.Uploader, UserB: up.Receiver}
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	msg, err := st.AppendFile(ctx, up.Uploader, up.Receiver, pairstore.UploadInput{
		OriginalFilename: up.OriginalFilename,
		StoredPath:       up.StoredPath,
		URL:              up.URL,
		MimeType:         up.MimeType,
		Uploader:         up.Uploader,
	})
	if err != nil {
		slog.Error("append file", "pair", p.Key(), "err", err)
		return nil, err
	}
	s.afterMessage(ctx, p.Key(), msg)
	return msg, nil
}

// afterMessage runs once a message is durable: the chat list is refreshed and
// the message is broadcast. A directory failure is only logged.
func (s *Service) afterMessage(ctx context.Context, key string, msg *models.Message) {
	previewText := msg.Body()
	if msg.Upload != nil {
		previewText = "[file] " + msg.Upload.OriginalFilename
	}
	if s.Directory != nil {
		err := s.Directory.RecordActivity(ctx, store.Activity{
			PairKey: key,
			Sender:  msg.Sender,
			Preview: previewText,
			At:      msg.CreatedAt,
		})
		if err != nil {
			slog.Warn("record chat activity", "pair", key, "err", err)
		}
	}

	// The message carries sender and receiver, enough for clients to
	// recompute the pair key.
	s.Hub.Emit(key, EventReceiveMessage, msg)
	for _, user := range distinct(msg.Sender, msg.Receiver) {
		s.Hub.EmitToUser(user, EventUpdateChatList, map[string]any{
			"pair_key": key,
			"sender":   msg.Sender,
			"receiver": msg.Receiver,
		})
	}
}

func distinct(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

// History returns the pair's messages in delivery order.
func (s *Service) History(ctx context.Context, p Pair) ([]models.Message, error) {
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	return st.History(ctx)
}

func (s *Service) DeleteMessage(ctx context.Context, p Pair, id int64) error {
	st, err := s.open(ctx, p)
	if err != nil {
		return err
	}
	if err := st.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.Hub.Emit(p.Key(), EventMessageDeleted, map[string]any{"userA": p.UserA, "userB": p.UserB, "id": id})
	return nil
}

// Typing relays a typing indicator. Nothing is persisted.
func (s *Service) Typing(sender, receiver string, typing bool) error {
	p := Pair{UserA: sender, UserB: receiver}
	if err := p.validate(); err != nil {
		return err
	}
	event := EventStopTyping
	if typing {
		event = EventTyping
	}
	s.Hub.Emit(p.Key(), event, map[string]string{"sender": sender, "receiver": receiver})
	return nil
}

type EventInput struct {
	Pair
	Title     string
	Start     time.Time
	End       *time.Time
	CreatedBy string
}

type EventPayload struct {
	Pair
	Event *models.Event `json:"event"`
}

func (s *Service) AddEvent(ctx context.Context, in EventInput) (*models.Event, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.ErrMissingField("title")
	}
	if in.Start.IsZero() {
		return nil, apperr.ErrMissingField("start")
	}
	if in.End != nil && in.End.Before(in.Start) {
		return nil, apperr.InvalidArg("end must not be before start")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, apperr.ErrMissingField("createdBy")
	}
	st, err := s.open(ctx, in.Pair)
	if err != nil {
		return nil, err
	}
	ev, err := st.AddEvent(ctx, pairstore.EventInput{Title: in.Title, Start: in.Start, End: in.End, CreatedBy: in.CreatedBy})
	if err != nil {
		return nil, err
	}
	s.Hub.Emit(in.Pair.Key(), EventEventAdded, EventPayload{Pair: in.Pair, Event: ev})
	return ev, nil
}

func (s *Service) DeleteEvent(ctx context.Context, p Pair, id int64) error {
	st, err := s.open(ctx, p)
	if err != nil {
		return err
	}
	if err := st.DeleteEvent(ctx, id); err != nil {
		return err
	}
	s.Hub.Emit(p.Key(), EventEventDeleted, map[string]any{"userA": p.UserA, "userB": p.UserB, "id": id})
	return nil
}

func (s *Service) Events(ctx context.Context, p Pair) ([]models.Event, error) {
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	return st.Events(ctx)
}

type TaskPayload struct {
	Pair
	Task *models.Task `json:"task"`
}

func (s *Service) AddTask(ctx context.Context, p Pair, text string) (*models.Task, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ErrMissingField("text")
	}
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	task, err := st.AddTask(ctx, text)
	if err != nil {
		return nil, err
	}
	s.Hub.Emit(p.Key(), EventTaskAdded, TaskPayload{Pair: p, Task: task})
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, p Pair, id int64) error {
	st, err := s.open(ctx, p)
	if err != nil {
		return err
	}
	if err := st.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.Hub.Emit(p.Key(), EventTaskDeleted, map[string]any{"userA": p.UserA, "userB": p.UserB, "taskId": id})
	return nil
}

func (s *Service) UpdateTaskStatus(ctx context.Context, p Pair, id int64, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, apperr.ErrInvalidTaskStatus
	}
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	task, err := st.UpdateTaskStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.Hub.Emit(p.Key(), EventTaskStatusUpdated, TaskPayload{Pair: p, Task: task})
	return task, nil
}

func (s *Service) Tasks(ctx context.Context, p Pair) ([]models.Task, error) {
	st, err := s.open(ctx, p)
	if err != nil {
		return nil, err
	}
	return st.Tasks(ctx)
}

// DeleteChat removes the pair's store and its chat list entry.
func (s *Service) DeleteChat(ctx context.Context, p Pair) error {
	if err := p.validate(); err != nil {
		return err
	}
	key := p.Key()
	if err := s.Stores.Delete(ctx, key); err != nil {
		return err
	}
	if s.Directory != nil {
		if err := s.Directory.DeleteChat(ctx, key); err != nil {
			slog.Warn("delete chat list entry", "pair", key, "err", err)
		}
	}
	payload := map[string]string{"userA": p.UserA, "userB": p.UserB, "pair_key": key}
	s.Hub.Emit(key, EventChatDeleted, payload)
	for _, user := range distinct(p.UserA, p.UserB) {
		s.Hub.EmitToUser(user, EventUpdateChatList, payload)
	}
	return nil
}

// Chats lists the conversations of user, most recent first.
func (s *Service) Chats(ctx context.Context, user string) ([]models.ChatSummary, error) {
	return s.Directory.ListChats(ctx, user)
}
