package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// ActorKey is the key the authenticated actor is stored under.
const ActorKey = "actor"

// TokenVerifier returns the subject of a valid bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Authenticate resolves the bearer token into an actor. User tokens are
// tried first and then tokens signed by other currency servers, whose
// subject is a ledger account key. Requests without a token go on as an
// anonymous user; invalid tokens are rejected.
func Authenticate(logger *slog.Logger, users, servers TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(ActorKey, shared.UserActor(""))
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, string(shared.KindUnauthorized), "Bearer token required")
			return
		}

		if userID, err := users.Verify(token); err == nil {
			c.Set(ActorKey, shared.UserActor(userID))
			c.Next()
			return
		}
		key, err := servers.Verify(token)
		if err != nil {
			logger.Warn("Rejected bearer token", "error", err, "correlation_id", GetCorrelationID(c))
			abort(c, http.StatusUnauthorized, string(shared.KindUnauthorized), "Invalid token")
			return
		}
		c.Set(ActorKey, shared.ExternalActor(key))
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := lookupActor(c)
		if !ok || (actor.Type == shared.ActorUser && actor.UserID == "") {
			abort(c, http.StatusUnauthorized, string(shared.KindUnauthorized), "Authentication required")
			return
		}
		c.Next()
	}
}

// GetActor returns the actor of the request, anonymous if none was set.
func GetActor(c *gin.Context) shared.Actor {
	actor, ok := lookupActor(c)
	if !ok {
		return shared.UserActor("")
	}
	return actor
}

func lookupActor(c *gin.Context) (shared.Actor, bool) {
	v, exists := c.Get(ActorKey)
	if !exists {
		return shared.Actor{}, false
	}
	actor, ok := v.(shared.Actor)
	return actor, ok
}
