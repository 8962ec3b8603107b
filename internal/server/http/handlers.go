package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/tvkeeper/internal/authctx"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/model"
	"github.com/and161185/tvkeeper/internal/service"
)

type handlers struct {
	auth service.AuthService
	log  *zap.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /auth/login
func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	tok, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt.UTC(),
	})
}

// POST /auth/logout
func (h *handlers) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

// GET /user/currentUser
func (h *handlers) currentUser(c *gin.Context) {
	id, ok := authctx.UserIDFromCtx(c.Request.Context())
	if !ok {
		writeError(c, h.log, errs.ErrUnauthenticated)
		return
	}
	u, err := h.auth.CurrentUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(u))
}

// POST /user
func (h *handlers) createUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	u, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, model.Role(req.Role))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(u))
}
