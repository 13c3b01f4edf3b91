package models

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeText MessageType = "text"
	TypeFile MessageType = "file"
)

// Content is the body of a message: either Text or File.
type Content interface {
	Type() MessageType
	isContent()
}

type Text struct {
	Body string
}

func (Text) Type() MessageType { return TypeText }
func (Text) isContent()        {}

// File points at an Upload recorded in the same conversation store.
type File struct {
	UploadID int64
}

func (File) Type() MessageType { return TypeFile }
func (File) isContent()        {}

type Message struct {
	ID        int64
	Sender    string
	Receiver  string
	Content   Content
	CreatedAt time.Time

	// Upload is populated for file messages when read back from a store.
	Upload *Upload
}

func (m Message) Type() MessageType {
	if m.Content == nil {
		return TypeText
	}
	return m.Content.Type()
}

// Body returns the text of a text message and "" for a file message.
func (m Message) Body() string {
	if t, ok := m.Content.(Text); ok {
		return t.Body
	}
	return ""
}

type messageJSON struct {
	ID        int64       `json:"id"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Message   string      `json:"message"`
	Type      MessageType `json:"type"`
	UploadID  *int64      `json:"upload_id,omitempty"`
	Upload    *Upload     `json:"upload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Message:   m.Body(),
		Type:      m.Type(),
		Upload:    m.Upload,
		CreatedAt: m.CreatedAt,
	}
	if f, ok := m.Content.(File); ok {
		id := f.UploadID
		out.UploadID = &id
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message{
		ID:        in.ID,
		Sender:    in.Sender,
		Receiver:  in.Receiver,
		CreatedAt: in.CreatedAt,
		Upload:    in.Upload,
	}
	if in.Type == TypeFile && in.UploadID != nil {
		m.Content = File{UploadID: *in.UploadID}
	} else {
		m.Content = Text{Body: in.Message}
	}
	return nil
}
