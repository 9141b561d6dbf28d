package handler

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/friendlychat/internal/config"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/hub"
	"github.com/weiawesome/friendlychat/internal/identity"
	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/internal/store"
	"github.com/weiawesome/friendlychat/pkg/middleware"
)

//go:embed web
var webFS embed.FS

// BrowserCookie identifies one browser across the page, the WebSocket and
// the sign-in popup.
const BrowserCookie = "fc_sid"

// Options tunes the HTTP surface.
type Options struct {
	WebSocket     config.WebSocketConfig
	FadeInDelay   time.Duration
	MaxUploadSize int64
	SecureCookies bool
	// SessionMaxAge is the lifetime of the session cookie.
	SessionMaxAge time.Duration
	// FilesPrefix and FilesDir serve locally stored images.
	FilesPrefix string
	FilesDir    string
}

// Handler handles HTTP and WebSocket requests of the chat.
type Handler struct {
	gate           *identity.Gate
	store          *store.Client
	hub            *hub.Hub
	metrics        *metrics.Metrics
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler creates a new HTTP handler.
func NewHandler(gate *identity.Gate, st *store.Client, h *hub.Hub, m *metrics.Metrics, opts Options) *Handler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 << 20
	}
	if opts.SessionMaxAge <= 0 {
		opts.SessionMaxAge = 24 * time.Hour
	}
	return &Handler{
		gate:           gate,
		store:          st,
		hub:            h,
		metrics:        m,
		authMiddleware: middleware.NewAuthMiddleware(gate),
		opts:           opts,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(template.Must(template.ParseFS(webFS, "web/*.html")))

	static := mustSub(webFS, "web")
	r.StaticFS("/images", http.FS(mustSub(static, "images")))
	r.StaticFS("/scripts", http.FS(mustSub(static, "scripts")))
	r.StaticFS("/styles", http.FS(mustSub(static, "styles")))
	if h.opts.FilesDir != "" && h.opts.FilesPrefix != "" {
		r.Static(h.opts.FilesPrefix, h.opts.FilesDir)
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/", h.authMiddleware.OptionalAuth(), h.Page)

	auth := r.Group("/auth")
	{
		auth.GET("/sign-in", h.SignIn)
		auth.GET("/dev", h.DevLogin)
		auth.GET("/callback", h.Callback)
		auth.POST("/sign-out", h.authMiddleware.RequireAuth(), h.SignOut)
		auth.GET("/me", h.authMiddleware.OptionalAuth(), h.Me)
	}

	api := r.Group("/api/v1")
	api.Use(h.authMiddleware.OptionalAuth())
	{
		api.POST("/messages", h.SendText)
		api.POST("/messages/image", h.SendImage)
		api.DELETE("/messages/:id", h.DeleteMessage)
		api.POST("/ui/toggle", h.Toggle)
	}

	r.GET("/chat/ws", h.authMiddleware.OptionalAuth(), h.HandleWebSocket)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// currentProfile returns the signed-in user of the request, or nil.
func currentProfile(c *gin.Context) *domain.Profile {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return nil
	}
	return &domain.Profile{
		UID:         p.UserID,
		DisplayName: p.Username,
		PhotoURL:    p.Picture,
		Email:       p.Email,
	}
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
