package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/weiawesome/friendlychat/internal/domain"
)

// Page serves the chat page with its header already in the right state.
func (h *Handler) Page(c *gin.Context) {
	h.browserKey(c)
	c.HTML(http.StatusOK, "index.html", gin.H{
		"View":     domain.NewAuthView(currentProfile(c)),
		"Provider": providerLabel(h.gate.Provider().Name()),
	})
}

// browserKey returns the browser cookie, issuing one when missing.
func (h *Handler) browserKey(c *gin.Context) string {
	if key, err := c.Cookie(BrowserCookie); err == nil && key != "" {
		return key
	}
	key := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(BrowserCookie, key, 0, "/", "", h.opts.SecureCookies, true)
	return key
}

func providerLabel(name string) string {
	if name == "google" {
		return "Google"
	}
	return "a name"
}
