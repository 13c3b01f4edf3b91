package models

import "time"

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// ChatSummary is one row of a user's chat list. It is a denormalized copy of
// the latest activity in a pair store.
type ChatSummary struct {
	PairKey     string    `json:"pair_key"`
	UserA       string    `json:"userA"`
	UserB       string    `json:"userB"`
	LastSender  string    `json:"last_sender"`
	LastPreview string    `json:"last_preview"`
	LastAt      time.Time `json:"last_at"`
}

type Upload struct {
	ID               int64     `json:"id"`
	OriginalFilename string    `json:"name"`
	StoredPath       string    `json:"stored_path"`
	URL              string    `json:"url"`
	MimeType         string    `json:"filetype"`
	Uploader         string    `json:"uploader"`
	CreatedAt        time.Time `json:"created_at"`
}

type Event struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	CreatedBy string     `json:"created_by"`
}

type TaskStatus string

const (
	TaskNotComplete TaskStatus = "not-complete"
	TaskComplete    TaskStatus = "complete"
)

func (s TaskStatus) Valid() bool {
	return s == TaskNotComplete || s == TaskComplete
}

type Task struct {
	ID     int64      `json:"id"`
	Text   string     `json:"text"`
	Status TaskStatus `json:"status"`
}
