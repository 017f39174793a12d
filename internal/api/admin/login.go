// Package admin implements organization-admin authentication endpoints.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/api/apierr"
	"github.com/orgstore/orgstore/internal/services"
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	auth *services.AdminAuthService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(auth *services.AdminAuthService) *AuthHandlers {
	return &AuthHandlers{auth: auth}
}

// LoginRequest is the body of POST /admin/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is a freshly issued session
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}

// @Summary      Admin login
// @Description  Exchanges an organization admin's email and password for a bearer session token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Admin credentials"
// @Success      200  {object}  LoginResponse
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      422  {object}  map[string]interface{}  "Invalid input"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Router       /admin/login [post]
// LoginHandler authenticates an organization admin
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}

		session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			AccessToken: session.AccessToken,
			TokenType:   session.TokenType,
			ExpiresIn:   session.ExpiresIn,
		})
	}
}
