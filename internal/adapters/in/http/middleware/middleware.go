// Package middleware provides the HTTP middleware chain: request logging
// and optional basic authentication for mutating operations.
package middleware

import (
	"crypto/subtle"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs one structured line per request.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			log.Info().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("request")

			return err
		}
	}
}

// BasicAuth guards mutating routes with HTTP basic authentication. When
// disabled it is a passthrough.
func BasicAuth(enabled bool, username, password string) echo.MiddlewareFunc {
	if !enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return echomw.BasicAuthWithConfig(echomw.BasicAuthConfig{
		Realm: "artifactd",
		Validator: func(user, pass string, c echo.Context) (bool, error) {
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			return userMatch && passMatch, nil
		},
	})
}
