package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/errors"
	"github.com/victornm/reflex/internal/session"
)

func (a *API) registerHTTP(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.POST("/sessions", a.httpCreateSession)
	v1.GET("/sessions/:id", a.httpGetSession)
	v1.POST("/sessions/:id/tap", a.httpTap)
	v1.POST("/sessions/:id/restart", a.httpRestart)
	v1.DELETE("/sessions/:id", a.httpEndSession)
	v1.GET("/leaderboard", a.httpGetLeaderboard)
}

func (a *API) httpCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request: %v", err),
		))
		return
	}

	snap, err := a.ss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		Viewport: domain.Viewport{Width: req.Width, Height: req.Height},
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSession(*snap))
}

func (a *API) httpGetSession(c *gin.Context) {
	snap, err := a.ss.GetSession(c.Request.Context(), session.GetSessionRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(*snap))
}

func (a *API) httpTap(c *gin.Context) {
	snap, err := a.ss.Tap(c.Request.Context(), session.TapRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(*snap))
}

func (a *API) httpRestart(c *gin.Context) {
	snap, err := a.ss.Restart(c.Request.Context(), session.RestartRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(*snap))
}

func (a *API) httpEndSession(c *gin.Context) {
	err := a.ss.EndSession(c.Request.Context(), session.EndSessionRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) httpGetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
