package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/auth"
	"github.com/vovakirdan/wiresync/internal/proto"
)

// APIHandlers provides HTTP handlers for token endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// GuestLogin issues a token for a new guest identity.
// POST /api/guest
func (h *APIHandlers) GuestLogin(c *gin.Context) {
	var req proto.GuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid guest request")
		c.JSON(http.StatusBadRequest, proto.Error{Code: "bad_request", Msg: "invalid request body"})
		return
	}

	token, userID, err := h.authService.GuestLogin(req.UserName)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidUsername) {
			c.JSON(http.StatusBadRequest, proto.Error{Code: "bad_request", Msg: "userName must be 1-32 characters"})
			return
		}
		h.log.Error().Err(err).Msg("guest login failed")
		c.JSON(http.StatusInternalServerError, proto.Error{Code: "internal", Msg: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", userID).Msg("guest token issued")
	c.JSON(http.StatusOK, proto.GuestResponse{Token: token, UserID: userID, UserName: req.UserName})
}
