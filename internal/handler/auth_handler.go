package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-grader/internal/response"
)

// AuthHandler exposes the identity carried by the caller's token. Tokens
// themselves are issued elsewhere.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// GET /api/v1/me
// GET /api/v1/admin/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	data := gin.H{
		"user_id":    claims.UserID,
		"token_type": claims.TokenType,
	}
	if claims.ExpiresAt != nil {
		data["expires_at"] = claims.ExpiresAt.Time
	}
	response.Success(c, http.StatusOK, data)
}
