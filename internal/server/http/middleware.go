package httpserver

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tvkeeper/internal/authctx"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/model"
	"github.com/and161185/tvkeeper/internal/token"
)

const (
	headerRequestID = "X-Request-Id"
	requestIDKey    = "request_id"
)

// Authenticator checks the Authorization header of a guarded request.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (token.Claims, error)
}

// RequestID propagates or assigns an X-Request-Id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.Must(uuid.NewV4()).String()
		}
		c.Set(requestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(requestIDKey)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Code: codeInternal, Message: "internal error"})
			}
		}()
		c.Next()
	}
}

// AccessLog logs every request except health and metrics, at a level chosen by status.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/metrics":
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.String("client", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// RequireAuth rejects requests without a valid, unrevoked bearer token and
// stores the claims in the request context.
func RequireAuth(auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.Request = c.Request.WithContext(authctx.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// RequireRole allows only callers whose token carries role. It must follow RequireAuth.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authctx.ClaimsFromCtx(c.Request.Context())
		if !ok {
			writeError(c, zap.NewNop(), errs.ErrUnauthenticated)
			return
		}
		if claims.Sub.Role != role {
			writeError(c, zap.NewNop(), errs.ErrForbidden)
			return
		}
		c.Next()
	}
}
