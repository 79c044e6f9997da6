package api

import (
	"context"
	"net/http"
	"strings"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Authenticator resolves a bearer token to the calling actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (service.Actor, error)
}

// authMiddleware requires a valid "Authorization: Bearer <token>" header.
func authMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			respondError(c, apperr.New(apperr.Unauthenticated, "missing or malformed bearer token"))
			c.Abort()
			return
		}

		actor, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// requireRole lets through only actors holding one of roles.
func requireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorOf(c)
		if !ok {
			respondError(c, apperr.New(apperr.Unauthenticated, "authentication required"))
			c.Abort()
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		respondError(c, apperr.Newf(apperr.Unauthorized, "%s accounts cannot access this resource", actor.Role))
		c.Abort()
	}
}

func actorOf(c *gin.Context) (service.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return service.Actor{}, false
	}
	actor, ok := v.(service.Actor)
	return actor, ok
}

// actor returns the authenticated caller. Routes using it sit behind
// authMiddleware.
func actor(c *gin.Context) service.Actor {
	a, _ := actorOf(c)
	return a
}

var statusByKind = map[apperr.Kind]int{
	apperr.NotFound:          http.StatusNotFound,
	apperr.InvalidState:      http.StatusConflict,
	apperr.InsufficientStock: http.StatusConflict,
	apperr.Unauthorized:      http.StatusForbidden,
	apperr.Unauthenticated:   http.StatusUnauthorized,
	apperr.Validation:        http.StatusBadRequest,
	apperr.AlreadyExists:     http.StatusConflict,
	apperr.Internal:          http.StatusInternalServerError,
}

func statusOf(kind apperr.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": kind, "message": msg}. Internal causes are
// logged, never returned.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		_ = c.Error(err)
	}
	c.JSON(statusOf(kind), gin.H{
		"error":   kind,
		"message": apperr.Message(err),
	})
}
