package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
	"anonchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "anonchat-service"
	userIDContext = "anon_id"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the anonymous id of the bearer.
type Claims struct {
	AnonID string `json:"anon_id"`
	jwt.RegisteredClaims
}

// Auth issues and checks the anonymous bearer tokens.
type Auth struct {
	secret []byte
	expiry time.Duration
}

func NewAuth(secret string, expiry time.Duration) *Auth {
	return &Auth{secret: []byte(secret), expiry: expiry}
}

func (a *Auth) IssueToken(anonID string) (string, error) {
	now := time.Now()
	claims := Claims{
		AnonID: anonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   anonID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken returns the anonymous id inside a valid token.
func (a *Auth) ParseToken(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.AnonID == "" {
		return "", ErrInvalidToken
	}
	return claims.AnonID, nil
}

// AuthMiddleware rejects requests without a valid bearer token. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted too.
func (a *Auth) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			token = c.Query("token")
		}
		anonID, err := a.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			return
		}
		c.Set(userIDContext, anonID)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), anonID))
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDContext)
}

// GetAnonID creates a new anonymous identity and returns its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	anonID := uuid.NewString()
	token, err := h.Auth.IssueToken(anonID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.Profiles != nil {
		user := &models.User{ID: anonID, Reputation: config.InitialReputation}
		if err := h.Profiles.SaveUser(c.Request.Context(), user); err != nil {
			h.log.Ctx(c.Request.Context()).Warnf("create profile for %s: %v", anonID, err)
		}
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"token": token, "anon_id": anonID}))
}
