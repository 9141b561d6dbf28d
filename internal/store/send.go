package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/weiawesome/friendlychat/internal/audit"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/internal/repository"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
	"github.com/weiawesome/friendlychat/pkg/storage"
)

// Upload is an image file chosen by the user.
type Upload struct {
	Name    string
	Content io.Reader
}

// SendText writes a text message authored by user.
func (c *Client) SendText(ctx context.Context, user *domain.Profile, text string) (*domain.Message, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if user == nil {
		return nil, ErrSignedOut
	}

	msg := &domain.Message{
		UserID:        user.UID,
		Name:          user.DisplayName,
		ProfilePicURL: user.PhotoURL,
		Text:          text,
	}
	if err := c.repo.Create(ctx, msg); err != nil {
		logger := log.Ctx(ctx)
		logger.Error().Err(err).Str(log.FieldUserID, user.UID).Msg("error writing new message")
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	c.committed(ctx, pubsub.EventMessageCreated, msg)
	c.metrics.MessagesSent.WithLabelValues("text").Inc()
	audit.LogTarget(ctx, audit.ActionSendText, user.UID, msg.ID, "text message sent")
	return msg, nil
}

// DetectImage sniffs the MIME type of data and reports whether it is an
// image the chat accepts. SVG is refused since it can carry script.
func DetectImage(data []byte) (string, bool) {
	mt := mimetype.Detect(data)
	if mt.Is("image/svg+xml") {
		return mt.String(), false
	}
	return mt.String(), strings.HasPrefix(mt.String(), "image/")
}

// SendImage writes an image message authored by user. A placeholder is
// visible while the file uploads; once SendImage returns the message shows
// either the stored image or the failed marker.
func (c *Client) SendImage(ctx context.Context, user *domain.Profile, file Upload) (*domain.Message, error) {
	data, err := io.ReadAll(file.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	mimeType, ok := DetectImage(data)
	if !ok {
		return nil, ErrNotImage
	}
	if user == nil {
		return nil, ErrSignedOut
	}

	send := &imageSend{
		client:   c,
		user:     user,
		name:     sanitizeFileName(file.Name),
		data:     data,
		mimeType: mimeType,
	}
	return send.run(ctx)
}

// imageSend walks one image message through its upload states:
// pending → uploading → complete, or failed from any state after pending.
type imageSend struct {
	client   *Client
	user     *domain.Profile
	name     string
	data     []byte
	mimeType string

	msg     *domain.Message
	blobKey string
}

func (s *imageSend) run(ctx context.Context) (*domain.Message, error) {
	c := s.client
	l := log.Ctx(ctx).With().Str(log.FieldUserID, s.user.UID).Logger()

	// pending
	s.msg = &domain.Message{
		UserID:        s.user.UID,
		Name:          s.user.DisplayName,
		ProfilePicURL: s.user.PhotoURL,
		ImageURL:      domain.LoadingImageURL,
		UploadState:   domain.UploadPending,
	}
	if err := c.repo.Create(ctx, s.msg); err != nil {
		l.Error().Err(err).Msg("there was an error uploading a file to storage")
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	c.committed(ctx, pubsub.EventMessageCreated, s.msg)
	l = l.With().Str(log.FieldMessageID, s.msg.ID).Logger()

	// uploading
	if err := s.mark(ctx, repository.ImageUpdate{State: domain.UploadUploading}); err != nil {
		return s.fail(ctx, "mark uploading", err)
	}

	body, contentType, err := c.images.Process(s.data, s.mimeType)
	if err != nil {
		return s.fail(ctx, "process image", err)
	}

	key, err := c.blobs.Put(ctx, storage.Object{
		Owner:       s.user.UID,
		MessageID:   s.msg.ID,
		Name:        s.name,
		ContentType: contentType,
		Body:        body,
	})
	if err != nil {
		return s.fail(ctx, "write blob", err)
	}
	s.blobKey = key

	url, err := c.blobs.URL(ctx, s.blobKey, c.opts.URLExpiry)
	if err != nil {
		return s.fail(ctx, "resolve download url", err)
	}

	// complete
	if err := s.advance(ctx, repository.ImageUpdate{
		State:      domain.UploadComplete,
		ImageURL:   url,
		StorageURI: s.blobKey,
	}); err != nil {
		return s.fail(ctx, "mark complete", err)
	}

	c.metrics.MessagesSent.WithLabelValues("image").Inc()
	c.metrics.ImageUploads.WithLabelValues(metrics.OutcomeComplete).Inc()
	audit.LogTarget(ctx, audit.ActionSendImage, s.user.UID, s.msg.ID, "image message sent")
	l.Debug().Str("key", s.blobKey).Int("bytes", len(body)).Msg("image stored")
	return s.msg, nil
}

// mark persists a state change without publishing it. The uploading state
// is only read by the reaper; the card still shows the spinner.
func (s *imageSend) mark(ctx context.Context, u repository.ImageUpdate) error {
	updated, err := s.client.repo.UpdateImage(ctx, s.msg.ID, u)
	if err != nil {
		return err
	}
	s.msg = updated
	return nil
}

// advance persists a visible change and publishes it.
func (s *imageSend) advance(ctx context.Context, u repository.ImageUpdate) error {
	if err := s.mark(ctx, u); err != nil {
		return err
	}
	s.client.committed(ctx, pubsub.EventMessageUpdated, s.msg)
	return nil
}

// fail runs the compensating action: the message is marked failed, or
// deleted when even that is not possible. It runs detached from ctx so a
// cancelled request still leaves no message in flight.
func (s *imageSend) fail(ctx context.Context, step string, cause error) (*domain.Message, error) {
	c := s.client
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensateTimeout)
	defer cancel()

	l := log.Ctx(ctx).With().Str(log.FieldMessageID, s.msg.ID).Str("step", step).Logger()
	l.Error().Err(cause).Msg("there was an error uploading a file to storage")

	c.metrics.ImageUploads.WithLabelValues(metrics.OutcomeFailed).Inc()
	audit.LogWithDetail(ctx, audit.ActionImageFailed, s.user.UID, step, "image message failed")

	if s.blobKey != "" {
		if err := c.blobs.Remove(cctx, s.blobKey); err != nil {
			l.Warn().Err(err).Str("key", s.blobKey).Msg("failed to remove partial upload")
		}
	}

	err := c.markFailed(cctx, s.msg.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrMessageSettled), errors.Is(err, repository.ErrMessageNotFound):
	default:
		l.Error().Err(err).Msg("failed to mark upload failed, removing placeholder")
		if derr := c.repo.Delete(cctx, s.msg.ID); derr != nil && !errors.Is(derr, repository.ErrMessageNotFound) {
			l.Error().Err(derr).Msg("failed to remove placeholder")
		} else {
			c.committed(cctx, pubsub.EventMessageDeleted, s.msg)
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", ErrUploadFailed, step, cause)
}

func (c *Client) markFailed(ctx context.Context, id string) error {
	failed, err := c.repo.UpdateImage(ctx, id, repository.ImageUpdate{
		State:    domain.UploadFailed,
		ImageURL: domain.FailedImageURL,
	})
	if err != nil {
		return err
	}
	c.committed(ctx, pubsub.EventMessageUpdated, failed)
	return nil
}

// DeleteMessage removes a message of user together with its stored image.
func (c *Client) DeleteMessage(ctx context.Context, user *domain.Profile, id string) error {
	if user == nil {
		return ErrSignedOut
	}

	msg, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.UserID != user.UID {
		return ErrForbidden
	}

	if err := c.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	c.committed(ctx, pubsub.EventMessageDeleted, msg)
	audit.LogTarget(ctx, audit.ActionDelete, user.UID, msg.ID, "message deleted")

	if msg.IsImage() {
		if err := c.blobs.RemoveMessage(ctx, msg.UserID, msg.ID); err != nil {
			logger := log.Ctx(ctx)
			logger.Warn().Err(err).Str(log.FieldMessageID, id).Msg("failed to remove stored image")
		}
	}
	return nil
}

// ReapStale marks uploads that have been in flight for too long as failed.
// They are left behind when a process stops mid-upload.
func (c *Client) ReapStale(ctx context.Context) (int, error) {
	before := c.now().Add(-c.opts.StaleUploadAfter).UnixMilli()
	stale, err := c.repo.FindStaleUploads(ctx, before, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale uploads: %w", err)
	}

	reaped := 0
	for _, msg := range stale {
		if err := c.markFailed(ctx, msg.ID); err != nil {
			if errors.Is(err, repository.ErrMessageSettled) || errors.Is(err, repository.ErrMessageNotFound) {
				continue
			}
			return reaped, err
		}
		reaped++
		c.metrics.ImageUploads.WithLabelValues(metrics.OutcomeReaped).Inc()
	}
	return reaped, nil
}

var fileNameRegexp = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFileName keeps the last path element of name with a safe charset.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = fileNameRegexp.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	if name == "" {
		return "image"
	}
	return name
}
