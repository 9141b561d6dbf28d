package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID     = "user_id"
	FieldUsername   = "username"
	FieldSessionKey = "session_key"

	// Chat
	FieldMessageID = "message_id"
	FieldClientID  = "client_id"
	FieldQueryID   = "query_id"
	FieldChannel   = "channel"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
