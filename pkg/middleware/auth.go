package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Hennamaria07/movieBookingBackend/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextKeyUserID is where the authenticated user id is stored on the gin context
	ContextKeyUserID = "user_id"
	// ContextKeyRole holds the role claim when present
	ContextKeyRole = "role"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// AuthConfig configures JWT validation
type AuthConfig struct {
	Secret string
	// Issuer is checked only when non-empty
	Issuer string
}

// Claims is the subset of token claims the booking API relies on
type Claims struct {
	UserID string
	Role   string
}

// ParseToken validates an HS256 token and extracts user_id (falling back to sub)
func ParseToken(tokenString string, cfg *AuthConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, _ := mc["user_id"].(string)
	if userID == "" {
		userID, _ = mc.GetSubject()
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}

	role, _ := mc["role"].(string)
	return &Claims{UserID: userID, Role: role}, nil
}

// JWTAuth rejects requests without a valid bearer token and stores the
// caller's user id on the context.
func JWTAuth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", ErrMissingToken.Error())
			return
		}

		claims, err := ParseToken(tokenString, cfg)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		if claims.Role != "" {
			c.Set(ContextKeyRole, claims.Role)
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}
