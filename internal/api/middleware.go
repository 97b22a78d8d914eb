package api

import (
	"errors"
	"net/http"
	"strings"

	"order-engine/internal/apperr"
	"order-engine/internal/auth"
	"order-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// authMiddleware resolves the bearer token into a principal. The role is read
// from the store on every request so role changes and deletions apply immediately.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			abortUnauthenticated(c, "missing bearer token")
			return
		}

		claims, err := auth.ParseToken(h.jwtSecret, token)
		if err != nil {
			abortUnauthenticated(c, "invalid bearer token")
			return
		}

		principal, err := h.users.Principal(c.Request.Context(), claims.UserID)
		if apperr.KindOf(err) == apperr.KindNotFound {
			abortUnauthenticated(c, "unknown user")
			return
		}
		if err != nil {
			h.writeError(c, err)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "UNAUTHENTICATED",
		"message": message,
	})
}

func principalFrom(c *gin.Context) service.Principal {
	return c.MustGet(principalKey).(service.Principal)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindInvalidArgument,
		apperr.KindInvalidAddress,
		apperr.KindEmptyCart,
		apperr.KindInsufficientStock,
		apperr.KindLimitExceeded,
		apperr.KindInvalidTransition:
		return http.StatusBadRequest
	case apperr.KindAlreadyCancelled, apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": kind, "message": ...}. Internal details are
// logged, never returned to the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	body := gin.H{"error": kind.String()}
	if kind == apperr.KindInternal {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "internal error"
	} else {
		var e *apperr.Error
		if errors.As(err, &e) {
			body["message"] = e.Message
		}
		if productID := apperr.ProductOf(err); productID != 0 {
			body["product_id"] = productID
		}
	}

	c.JSON(status, body)
}
