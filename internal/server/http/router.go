// Package httpserver exposes the auth core over HTTP with gin.
package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/tvkeeper/internal/model"
	"github.com/and161185/tvkeeper/internal/service"
)

// Options configures the router.
type Options struct {
	Auth   service.AuthService
	Logger *zap.Logger
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(o Options) *gin.Engine {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	registerValidation()

	r := gin.New()
	r.Use(RequestID(), Recovery(log), AccessLog(log))
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Code: codeNotFound, Message: "route not found"})
	})

	h := &handlers{auth: o.Auth, log: log}

	r.GET("/health", h.health)
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics))
	}

	auth := r.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/logout", h.logout)

	user := r.Group("/user", RequireAuth(o.Auth, log))
	user.GET("/currentUser", h.currentUser)
	user.POST("", RequireRole(model.RoleAdmin), h.createUser)

	return r
}
