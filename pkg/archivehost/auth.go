package archivehost

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims of archive host tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Scope is ScopeRead or ScopeWrite. Write implies read.
	Scope string `json:"scope"`
}

// NewToken signs a token for subject, valid for ttl. A zero ttl never expires.
func NewToken(secret []byte, subject string, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Scope: scope,
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken checks the signature and expiry of token.
func VerifyToken(secret []byte, token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	switch claims.Scope {
	case ScopeRead, ScopeWrite:
	default:
		return nil, errors.Join(ErrInvalidToken, errors.New("unknown scope "+claims.Scope))
	}
	return claims, nil
}

func (h *Host) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return echo.NewHTTPError(http.StatusUnauthorized, "bearer token is required")
		}
		claims, err := VerifyToken(h.secret, token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		switch c.Request().Method {
		case http.MethodPut, http.MethodDelete:
			if claims.Scope != ScopeWrite {
				return echo.NewHTTPError(http.StatusForbidden, "token does not allow writes")
			}
		}
		return next(c)
	}
}
