package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/auth"
	"github.com/vovakirdan/wiresync/internal/proto"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUserName is the context key for storing the display name.
	ContextKeyUserName = "user_name"
	// ContextKeyIsGuest is the context key for storing guest status.
	ContextKeyIsGuest = "is_guest"
)

// bearerToken extracts a token from "Authorization: Bearer <token>" or, for browsers that cannot
// set headers on a WebSocket handshake, from the token query parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate validates the request's bearer token. On failure it returns the message to
// answer with.
func authenticate(authService *auth.Service, r *http.Request, logger *zerolog.Logger) (*auth.Claims, string) {
	token := bearerToken(r)
	if token == "" {
		logger.Debug().Msg("missing bearer token")
		return nil, "missing bearer token"
	}
	claims, err := authService.ValidateToken(token)
	if err != nil {
		logger.Debug().Err(err).Msg("invalid token")
		return nil, "invalid token"
	}
	return claims, ""
}

// AuthMiddleware creates a middleware that validates JWT tokens. A nil service lets every
// request through.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			c.Next()
			return
		}

		claims, msg := authenticate(authService, c.Request, logger)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, proto.Error{Code: "unauthorized", Msg: msg})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUserName, claims.UserName)
		c.Set(ContextKeyIsGuest, claims.IsGuest)

		c.Next()
	}
}

// WSAuth guards the WebSocket endpoint with the same token check as AuthMiddleware and binds
// the connection to the token's user. A nil service accepts anonymous connections.
func WSAuth(authService *auth.Service, logger *zerolog.Logger, ws *WSHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authService == nil {
			ws.serve(w, r, "")
			return
		}

		claims, msg := authenticate(authService, r, logger)
		if claims == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			if err := json.NewEncoder(w).Encode(proto.Error{Code: "unauthorized", Msg: msg}); err != nil {
				logger.Debug().Err(err).Msg("write unauthorized response")
			}
			return
		}
		ws.serve(w, r, claims.UserID)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
