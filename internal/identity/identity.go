// Package identity resolves the current user from a bearer token. Display
// data (name, avatar, verified) travels in the token claims and is copied into
// every message the user sends.
package identity

import (
	"Boxchat/internal/model"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUserID = errors.New("token has no user id")
)

const userContextKey = "identity.user"

// Provider resolves a token into the user it was issued for.
type Provider interface {
	Resolve(token string) (model.UserSnapshot, error)
}

// Claims carries the user snapshot. user_id is accepted as a fallback for sub.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"verified,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider validates HMAC-signed tokens.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

func (p *JWTProvider) Resolve(tokenStr string) (model.UserSnapshot, error) {
	if tokenStr == "" {
		return model.UserSnapshot{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return model.UserSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := token.Claims.(*Claims)
	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return model.UserSnapshot{}, ErrMissingUserID
	}

	return model.UserSnapshot{
		ID:       id,
		Name:     claims.Name,
		Avatar:   claims.Avatar,
		Verified: claims.Verified,
	}, nil
}

// Mint issues a token for user, valid for ttl. Used by dev tooling and tests.
func Mint(secret string, user model.UserSnapshot, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:     user.Name,
		Avatar:   user.Avatar,
		Verified: user.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter that browsers use for websockets.
func ExtractToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(provider Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := provider.Resolve(ExtractToken(c.Request))
		if err != nil {
			message := "invalid token"
			if errors.Is(err, ErrMissingToken) {
				message = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"HttpStatusCode": http.StatusUnauthorized,
				"IsSuccess":      false,
				"Message":        message,
			})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// MustUser returns the user set by AuthMiddleware.
func MustUser(c *gin.Context) model.UserSnapshot {
	v, _ := c.Get(userContextKey)
	return v.(model.UserSnapshot)
}
