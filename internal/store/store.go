package store

import (
	"context"
	"time"

	"github.com/pliu/pairchat/internal/models"
)

// Directory is the global store: accounts plus a denormalized chat list.
// Per-pair history lives in package pairstore and is authoritative.
type Directory interface {
	// User operations
	Register(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListAccounts(ctx context.Context) ([]string, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]string, error)

	// Chat list operations
	RecordActivity(ctx context.Context, a Activity) error
	ListChats(ctx context.Context, username string) ([]models.ChatSummary, error)
	DeleteChat(ctx context.Context, pairKey string) error

	Close() error
}

// Activity is the latest event in a pair, copied into the chat list.
type Activity struct {
	PairKey string
	Sender  string
	Preview string
	At      time.Time
}
