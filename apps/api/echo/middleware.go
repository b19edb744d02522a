package echoapi

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// sessionMiddleware turns the validated token into the acting account.Session.
func sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token, ok := ctx.Get(contextTokenKey).(*jwt.Token)
		if !ok {
			return errUnauthorized
		}
		sess, ok := sessionFromToken(token)
		if !ok {
			return errUnauthorized
		}
		ctx.Set(contextSessionKey, sess)
		return next(ctx)
	}
}
