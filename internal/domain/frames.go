package domain

// WebSocket message types from client.
const (
	MsgTypePing = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthState = "auth_state"
	MsgTypeFeed      = "feed"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// AuthStateMessage tells a browser to redraw its header.
type AuthStateMessage struct {
	Type string   `json:"type"`
	View AuthView `json:"view"`
}

func NewAuthStateMessage(p *Profile) *AuthStateMessage {
	return &AuthStateMessage{Type: MsgTypeAuthState, View: NewAuthView(p)}
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
