package httpserver

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/and161185/tvkeeper/internal/errs"
)

const (
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeUnauthorized       = "UNAUTHORIZED"
	codeForbidden          = "FORBIDDEN"
	codeConflict           = "CONFLICT"
	codeNotFound           = "NOT_FOUND"
	codeValidation         = "VALIDATION"
	codeInternal           = "INTERNAL"
)

// writeError maps a service error onto status and body. Unauthenticated and
// revoked produce the same response.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	status, body := http.StatusInternalServerError, errorResponse{Code: codeInternal, Message: "internal error"}
	switch {
	case errors.Is(err, errs.ErrInvalidCredentials):
		status, body = http.StatusUnauthorized, errorResponse{Code: codeInvalidCredentials, Message: "invalid email or password"}
	case errors.Is(err, errs.ErrUnauthenticated), errors.Is(err, errs.ErrRevoked):
		status, body = http.StatusUnauthorized, errorResponse{Code: codeUnauthorized, Message: "authentication required"}
	case errors.Is(err, errs.ErrForbidden):
		status, body = http.StatusForbidden, errorResponse{Code: codeForbidden, Message: "insufficient role"}
	case errors.Is(err, errs.ErrAlreadyExists):
		status, body = http.StatusConflict, errorResponse{Code: codeConflict, Message: "email already registered"}
	case errors.Is(err, errs.ErrNotFound):
		status, body = http.StatusNotFound, errorResponse{Code: codeNotFound, Message: "not found"}
	case errors.Is(err, errs.ErrValidation):
		status, body = http.StatusBadRequest, errorResponse{Code: codeValidation, Message: "invalid request"}
	default:
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

// writeBindError reports a request body that failed to decode or validate.
func writeBindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Code: codeValidation, Message: "malformed request body"})
		return
	}
	fields := make([]fieldError, 0, len(ve))
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		m := describe(fe)
		fields = append(fields, fieldError{Field: fe.Field(), Message: m})
		msgs = append(msgs, fe.Field()+": "+m)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Code:    codeValidation,
		Message: strings.Join(msgs, "; "),
		Fields:  fields,
	})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

var validationOnce sync.Once

// registerValidation makes validator report json field names.
func registerValidation() {
	validationOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}
