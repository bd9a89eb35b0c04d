package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"weex-trading-bot/config"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// handleLogin checks the operator credentials against the configured bcrypt
// hash and issues a signed token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if req.Username != s.authConfig.AdminUser ||
		bcrypt.CompareHashAndPassword([]byte(s.authConfig.AdminPasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	ttl := s.authConfig.AccessTokenDuration
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: req.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(s.authConfig.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "expires_in": int(ttl.Seconds())})
}

// authMiddleware validates the Bearer token on protected routes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.authConfig.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if cl, ok := parsed.Claims.(*claims); ok {
			c.Set("username", cl.Username)
		}
		c.Next()
	}
}

// NewAuthConfig is a convenience for tests that need a working auth setup.
func NewAuthConfig(user, password, secret string) (config.AuthConfig, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return config.AuthConfig{}, err
	}
	return config.AuthConfig{
		JWTSecret:         secret,
		AdminUser:         user,
		AdminPasswordHash: string(hash),
	}, nil
}
