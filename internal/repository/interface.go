package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/friendlychat/internal/domain"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageSettled  = errors.New("message image already settled")
)

// ImageUpdate moves an image message to a new upload state.
type ImageUpdate struct {
	State      string
	ImageURL   string
	StorageURI string
}

// MessageRepository defines the interface for message persistence.
type MessageRepository interface {
	// Create assigns ID and Timestamp and inserts msg.
	Create(ctx context.Context, msg *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	// UpdateImage applies u to an unsettled image message and returns the
	// stored result with its new revision.
	UpdateImage(ctx context.Context, id string, u ImageUpdate) (*domain.Message, error)
	Delete(ctx context.Context, id string) error
	// Latest returns up to limit messages, newest first.
	Latest(ctx context.Context, limit int) ([]domain.Message, error)
	// FindStaleUploads returns image messages still in flight that were
	// created before the given Unix millisecond timestamp.
	FindStaleUploads(ctx context.Context, before int64, limit int) ([]domain.Message, error)
}
