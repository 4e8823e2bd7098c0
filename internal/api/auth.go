package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
)

// userContextKey is the echo context key the authenticate middleware
// stores the resolved user id under.
const userContextKey = "dispatcher.user"

// authenticate resolves the requesting user. With auth disabled, identity
// comes from the proxy's X-Forwarded-User header (the oauth2-proxy
// convention) falling back to the configured default user.
// With auth enabled, a signed bearer token is required.
func (s *Server) authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !s.cfg.Auth.Enabled {
				c.Set(userContextKey, extractForwardedUser(c, s.cfg.Auth.DefaultUser))
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			user, err := verifyToken(token, s.cfg.Auth.TokenSecret, time.Now())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// requestUser returns the user id the authenticate middleware resolved.
func requestUser(c *echo.Context) string {
	if u, ok := c.Get(userContextKey).(string); ok && u != "" {
		return u
	}
	return "api-client"
}

func extractForwardedUser(c *echo.Context, fallback string) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return fallback
}

// IssueToken signs a bearer token for user, expiring after ttl. The token
// is user|expiryUnix|hmac-sha256, base64url encoded.
func IssueToken(user, secret string, ttl time.Duration, now time.Time) string {
	expiry := now.Add(ttl).Unix()
	payload := fmt.Sprintf("%s|%d", user, expiry)
	sig := signPayload(payload, secret)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + "|" + sig))
}

func verifyToken(token, secret string, now time.Time) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("malformed token")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed token")
	}
	user, expiryStr, sig := parts[0], parts[1], parts[2]

	expected := signPayload(user+"|"+expiryStr, secret)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", fmt.Errorf("bad signature")
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil || now.Unix() > expiry {
		return "", fmt.Errorf("token expired")
	}
	return user, nil
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
