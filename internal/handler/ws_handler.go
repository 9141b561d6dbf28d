package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/feed"
	"github.com/weiawesome/friendlychat/internal/hub"
	"github.com/weiawesome/friendlychat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleWebSocket attaches a browser to the live feed. Each connection
// gets its own renderer fed by its own live query.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())
	sessionKey := h.browserKey(c)
	profile := currentProfile(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), sessionKey, h.hub, conn, h.opts.WebSocket)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}
	cl := l.With().Str(log.FieldClientID, client.ID).Str(log.FieldSessionKey, sessionKey).Logger()

	go client.WritePump()
	_ = client.SendMessage(domain.NewAuthStateMessage(profile))

	renderer := feed.NewRenderer(client, feed.WithFadeInDelay(h.opts.FadeInDelay))
	sub, err := h.store.Subscribe(client.Context(), func(ev domain.ChangeEvent) {
		if err := renderer.Apply(ev); err != nil {
			cl.Error().Err(err).Str(log.FieldMessageID, ev.Message.ID).Msg("failed to render change")
		}
	})
	if err != nil {
		cl.Error().Err(err).Msg("failed to open live query")
		_ = client.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "feed unavailable"))
		renderer.Close()
		h.hub.Unregister(client)
		return
	}

	go func() {
		<-client.Context().Done()
		sub.Close()
		renderer.Close()
		cl.Debug().Msg("feed released")
	}()
	go client.ReadPump(h.handleMessage)
}

func (h *Handler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})
	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

// PushAuthState redraws the header of every tab of a browser session.
func (h *Handler) PushAuthState(sessionKey string, profile *domain.Profile) {
	if err := h.hub.SendToSession(sessionKey, domain.NewAuthStateMessage(profile)); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldSessionKey, sessionKey).Msg("failed to push auth state")
	}
}
