package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/repository"
	"github.com/weiawesome/friendlychat/internal/store"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/response"
)

const (
	noticeSignIn     = "You must sign-in first"
	noticeImagesOnly = "You can only share images"
	noticeEmpty      = "Message is empty"
)

// SendTextRequest is the body of a text message.
type SendTextRequest struct {
	Text string `json:"text"`
}

// SendResult tells the page how to reset its form after a send.
type SendResult struct {
	Message       *domain.Message `json:"message,omitempty"`
	ResetInput    bool            `json:"reset_input"`
	SubmitEnabled bool            `json:"submit_enabled"`
}

// ToggleRequest carries the current value of the message input.
type ToggleRequest struct {
	Value string `json:"value"`
}

// ToggleResult reports whether the send button is enabled.
type ToggleResult struct {
	SubmitEnabled bool `json:"submit_enabled"`
}

// SendText handles a submitted text message.
func (h *Handler) SendText(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid send text request")
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.store.SendText(ctx, currentProfile(c), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyMessage):
			response.Notice(c, http.StatusBadRequest, "BAD_REQUEST", noticeEmpty)
		case errors.Is(err, store.ErrSignedOut):
			response.Unauthorized(c, noticeSignIn)
		default:
			l.Error().Err(err).Msg("send text failed")
			response.InternalError(c, "failed to send message")
		}
		return
	}

	response.Created(c, SendResult{Message: msg, ResetInput: true, SubmitEnabled: false})
}

// SendImage handles an image chosen from the file picker.
func (h *Handler) SendImage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadSize)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "image is too large")
			return
		}
		l.Warn().Err(err).Msg("invalid image upload")
		response.BadRequest(c, "missing file")
		return
	}
	f, err := fh.Open()
	if err != nil {
		l.Error().Err(err).Msg("failed to open upload")
		response.InternalError(c, "failed to read image")
		return
	}
	defer f.Close()

	msg, err := h.store.SendImage(ctx, currentProfile(c), store.Upload{Name: fh.Filename, Content: f})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotImage):
			response.UnsupportedMedia(c, noticeImagesOnly)
		case errors.Is(err, store.ErrSignedOut):
			response.Unauthorized(c, noticeSignIn)
		default:
			l.Error().Err(err).Msg("send image failed")
			response.InternalError(c, "failed to send image")
		}
		return
	}

	response.Created(c, SendResult{Message: msg, ResetInput: true, SubmitEnabled: false})
}

// DeleteMessage removes one of the caller's messages.
func (h *Handler) DeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	err := h.store.DeleteMessage(ctx, currentProfile(c), c.Param("id"))
	switch {
	case err == nil:
		response.Success(c, gin.H{"id": c.Param("id")})
	case errors.Is(err, store.ErrSignedOut):
		response.Unauthorized(c, noticeSignIn)
	case errors.Is(err, store.ErrForbidden):
		response.Forbidden(c, "message belongs to another user")
	case errors.Is(err, repository.ErrMessageNotFound):
		response.NotFound(c, "message not found")
	default:
		l.Error().Err(err).Msg("delete message failed")
		response.InternalError(c, "failed to delete message")
	}
}

// Toggle enables the send button only when there is something to send.
func (h *Handler) Toggle(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, ToggleResult{SubmitEnabled: req.Value != ""})
}
