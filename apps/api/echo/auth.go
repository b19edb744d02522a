package echoapi

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

const (
	contextTokenKey   = "userToken"
	contextSessionKey = "session"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")

// Claims are the claims of a Supabase access token.
type Claims struct {
	jwt.RegisteredClaims
	Email        string                 `json:"email,omitempty"`
	Role         string                 `json:"role,omitempty"` // postgres role, eg. "authenticated"
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

// AppRole is the application role. Only app_metadata is trusted: users can edit their user_metadata.
func (c Claims) AppRole() account.Role {
	role, _ := c.AppMetadata["role"].(string)
	return account.Role(role)
}

func newJWTMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(conf.Supabase.JWTSecret),
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims { return new(Claims) },
		ErrorHandler: func(echo.Context, error) error {
			return errUnauthorized
		},
	})
}

// getContextSession returns the acting session built by sessionMiddleware.
func getContextSession(ctx echo.Context) (*account.Session, error) {
	if sess, ok := ctx.Get(contextSessionKey).(*account.Session); ok {
		return sess, nil
	}
	return nil, errUnauthorized
}

func sessionFromToken(token *jwt.Token) (*account.Session, bool) {
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, false
	}
	sess := &account.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.AppRole(),
		AccessToken: token.Raw,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return sess, true
}
