package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no content exists for a key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for objects whose owner, message or name
	// would not produce a single well-formed key.
	ErrInvalidKey = errors.New("storage: invalid object key")
)

// Object is an uploaded image addressed by the user who sent it and the
// message it belongs to. Its key is owner/messageID/name.
type Object struct {
	Owner       string
	MessageID   string
	Name        string
	ContentType string
	Body        []byte
}

// Key returns the storage key of o.
func (o Object) Key() (string, error) {
	name := path.Base(strings.ReplaceAll(o.Name, "\\", "/"))
	for _, seg := range []string{o.Owner, o.MessageID, name} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\") {
			return "", fmt.Errorf("%w: %q/%q/%q", ErrInvalidKey, o.Owner, o.MessageID, o.Name)
		}
	}
	return o.Owner + "/" + o.MessageID + "/" + name, nil
}

// MessagePrefix returns the key prefix under which every object of one
// message is stored.
func MessagePrefix(owner, messageID string) string {
	return owner + "/" + messageID + "/"
}

// Storage holds message images.
type Storage interface {
	// Put stores obj and returns its key.
	Put(ctx context.Context, obj Object) (string, error)

	// Open returns the content stored under key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Remove deletes a single object. Missing objects are not an error.
	Remove(ctx context.Context, key string) error

	// RemoveMessage deletes every object stored for one message.
	RemoveMessage(ctx context.Context, owner, messageID string) error

	// URL returns the address browsers download key from. Drivers that
	// sign URLs keep them valid for expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config selects and configures a storage driver.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}
