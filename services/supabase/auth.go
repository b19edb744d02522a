package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/presence/core/account"
)

type (
	gotrueUser struct {
		ID           string                 `json:"id"`
		Email        string                 `json:"email"`
		UserMetadata map[string]interface{} `json:"user_metadata"`
		AppMetadata  map[string]interface{} `json:"app_metadata"`
	}

	gotrueSession struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    int64       `json:"expires_in"`
		ExpiresAt    int64       `json:"expires_at"`
		User         *gotrueUser `json:"user"`
	}

	// signUpResponse is a session when email confirmation is off, the bare user otherwise.
	signUpResponse struct {
		gotrueSession
		ID string `json:"id"`
	}
)

// role is read from app_metadata only: user_metadata is editable by its user.
func (u gotrueUser) role() account.Role {
	role, _ := u.AppMetadata["role"].(string)
	return account.Role(role)
}

func (s gotrueSession) session() account.Session {
	sess := account.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
	switch {
	case s.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		sess.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if s.User != nil {
		sess.UserID = s.User.ID
		sess.Email = s.User.Email
		sess.Role = s.User.role()
	}
	return sess
}

// AuthService is the GoTrue backed account.AuthService.
type AuthService struct {
	client *Client
}

var _ account.AuthService = (*AuthService)(nil)

func NewAuthService(client *Client) *AuthService {
	return &AuthService{client: client}
}

func (svc *AuthService) CreateIdentity(ctx context.Context, email, password string, meta account.Metadata) (account.SignUp, error) {
	res, err := svc.client.send(ctx, request{
		method: rest.Post,
		path:   "/auth/v1/signup",
		body: map[string]interface{}{
			"email":    email,
			"password": password,
			"data":     meta,
		},
	})
	if err != nil {
		return account.SignUp{}, errors.Wrap(err, "signing up")
	}

	var payload signUpResponse
	if err := json.Unmarshal([]byte(res.Body), &payload); err != nil {
		return account.SignUp{}, errors.Wrap(err, "decoding sign up response")
	}

	var su account.SignUp
	if payload.User != nil {
		su.IdentityID = payload.User.ID
	}
	if su.IdentityID == "" {
		su.IdentityID = payload.ID
	}
	if payload.AccessToken != "" {
		sess := payload.session()
		su.Session = &sess
	}
	return su, nil
}

func (svc *AuthService) Authenticate(ctx context.Context, email, password string) (account.Session, error) {
	res, err := svc.client.send(ctx, request{
		method: rest.Post,
		path:   "/auth/v1/token",
		query:  map[string]string{"grant_type": "password"},
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return account.Session{}, errors.Wrap(err, "signing in")
	}

	var payload gotrueSession
	if err := json.Unmarshal([]byte(res.Body), &payload); err != nil {
		return account.Session{}, errors.Wrap(err, "decoding session")
	}
	if payload.AccessToken == "" {
		return account.Session{}, errors.New("signing in: no access token returned")
	}
	return payload.session(), nil
}

func (svc *AuthService) CurrentSession(ctx context.Context, accessToken string) (account.Session, error) {
	if accessToken == "" {
		return account.Session{}, &APIError{StatusCode: http.StatusUnauthorized, Message: "no access token"}
	}
	res, err := svc.client.send(ctx, request{
		method: rest.Get,
		path:   "/auth/v1/user",
		token:  accessToken,
	})
	if err != nil {
		return account.Session{}, errors.Wrap(err, "getting user")
	}

	var usr gotrueUser
	if err := json.Unmarshal([]byte(res.Body), &usr); err != nil {
		return account.Session{}, errors.Wrap(err, "decoding user")
	}
	return account.Session{
		UserID:      usr.ID,
		Email:       usr.Email,
		Role:        usr.role(),
		AccessToken: accessToken,
	}, nil
}
