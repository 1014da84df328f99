package controllers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"applypilot/config"
	"applypilot/services"
)

// AuthController handles the single-operator login. There is no user
// table, the credentials live in the environment as an email plus a
// bcrypt hash.
type AuthController struct {
	operator   config.OperatorConfig
	jwtService *services.JWTService
}

func NewAuthController(operator config.OperatorConfig, jwtService *services.JWTService) *AuthController {
	return &AuthController{
		operator:   operator,
		jwtService: jwtService,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
	Token   string `json:"token,omitempty"`
}

func (c *AuthController) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, AuthResponse{
			Success: false,
			Message: "Invalid request data: " + err.Error(),
		})
		return
	}

	// With no hash configured the API stays locked rather than open.
	if c.operator.PasswordHash == "" {
		ctx.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Message: "Operator login is not configured",
		})
		return
	}

	emailMatches := subtle.ConstantTimeCompare([]byte(req.Email), []byte(c.operator.Email)) == 1
	err := bcrypt.CompareHashAndPassword([]byte(c.operator.PasswordHash), []byte(req.Password))
	if !emailMatches || err != nil {
		ctx.JSON(http.StatusUnauthorized, AuthResponse{
			Success: false,
			Message: "Invalid email or password",
		})
		return
	}

	token, err := c.jwtService.GenerateToken(c.operator.Email)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, AuthResponse{
			Success: false,
			Message: "Failed to generate authentication token",
		})
		return
	}

	ctx.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Message: "Login successful",
		User:    c.operator.Email,
		Token:   token,
	})
}
