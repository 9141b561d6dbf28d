package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/identity"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/middleware"
	"github.com/weiawesome/friendlychat/pkg/response"
)

// SignIn starts the provider flow in the popup.
func (h *Handler) SignIn(c *gin.Context) {
	l := log.Ctx(c.Request.Context())
	url, err := h.gate.SignIn(h.browserKey(c))
	if err != nil {
		l.Error().Err(err).Msg("sign in failed")
		response.InternalError(c, "failed to start sign-in")
		return
	}
	c.Redirect(http.StatusFound, url)
}

// DevLogin asks for a display name when the dev provider is configured.
func (h *Handler) DevLogin(c *gin.Context) {
	if h.gate.Provider().Name() != identity.ProviderDev {
		response.NotFound(c, "not found")
		return
	}
	c.HTML(http.StatusOK, "dev_login.html", gin.H{
		"State":    c.Query("state"),
		"Callback": "/auth/callback",
	})
}

// Callback completes the provider flow and stores the session cookie.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	sess, err := h.gate.Complete(ctx, c.Query("state"), c.Query("code"))
	if err != nil {
		l.Warn().Err(err).Msg("sign in callback failed")
		status := http.StatusInternalServerError
		if errors.Is(err, identity.ErrUnknownState) || errors.Is(err, identity.ErrInvalidCode) {
			status = http.StatusBadRequest
		}
		c.HTML(status, "signed_in.html", gin.H{"Error": "please try again"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, sess.Token, int(h.opts.SessionMaxAge.Seconds()), "/", "", h.opts.SecureCookies, true)
	c.HTML(http.StatusOK, "signed_in.html", gin.H{"Name": sess.Profile.DisplayName})
}

// SignOut revokes the session of the caller.
func (h *Handler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	if _, err := h.gate.SignOut(ctx, middleware.GetToken(c)); err != nil {
		l.Warn().Err(err).Msg("sign out failed")
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.opts.SecureCookies, true)
	response.Success(c, domain.NewAuthView(nil))
}

// Me returns the header state of the caller.
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, domain.NewAuthView(currentProfile(c)))
}
