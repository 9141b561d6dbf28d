package audit

import (
	"context"

	"github.com/weiawesome/friendlychat/pkg/log"
)

// Audit actions for friendlychat.
const (
	ActionSignIn       = "chat.sign_in"
	ActionSignInFailed = "chat.sign_in_failed"
	ActionSignOut      = "chat.sign_out"
	ActionSendText     = "chat.send_text"
	ActionSendImage    = "chat.send_image"
	ActionImageFailed  = "chat.image_failed"
	ActionDelete       = "chat.delete_message"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit log naming the affected message.
func LogTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
