package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"exchange/internal/model"
	"exchange/internal/repository"
	"exchange/pkg/response"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderUserID is set by the authenticating gateway in front of the
	// service.
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	ctxUserID = "user_id"
)

// LoggerMiddleware writes one structured access log line per request.
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return ginzap.Ginzap(log, time.RFC3339, true)
}

// RecoveryMiddleware turns panics into 500 responses and logs the stack.
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(log, true)
}

func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", HeaderUserID, HeaderIdempotencyKey},
		MaxAge:          12 * time.Hour,
	})
}

// IdentityMiddleware requires a positive X-User-ID and stores it on the
// context.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			response.Unauthorized(c, "missing or invalid "+HeaderUserID)
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// RoleLookup is satisfied by service.UserDirectory.
type RoleLookup interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// RequireRole lets the request through only when the caller holds role.
func RequireRole(users RoleLookup, role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := users.FindByID(c.Request.Context(), currentUserID(c))
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				response.Forbidden(c, "unknown user")
				return
			}
			response.ServerError(c, "internal server error")
			return
		}
		if user.Role != role {
			response.Forbidden(c, "requires role "+string(role))
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}
