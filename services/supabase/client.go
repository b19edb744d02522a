// Package supabase adapts the Supabase auth (GoTrue), storage and PostgREST APIs to the account ports.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/presence/core"
)

// APIError is a non 2xx response of a Supabase API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	anonKey string
	rest    *rest.Client
}

// NewClient returns a client of the project at conf.Supabase.URL.
// httpClient defaults to a client with a 30s timeout.
func NewClient(conf *core.Config, httpClient ...*http.Client) (*Client, error) {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(conf.Supabase.URL, "supabase.url"),
		vala.StringNotEmpty(conf.Supabase.AnonKey, "supabase.anonKey"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "creating supabase client")
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	if len(httpClient) > 0 && httpClient[0] != nil {
		hc = httpClient[0]
	}
	return &Client{
		baseURL: strings.TrimRight(conf.Supabase.URL, "/"),
		anonKey: conf.Supabase.AnonKey,
		rest:    &rest.Client{HTTPClient: hc},
	}, nil
}

type request struct {
	method  rest.Method
	path    string
	token   string // defaults to the anon key
	query   map[string]string
	headers map[string]string
	body    interface{} // []byte is sent as is, anything else as JSON
}

func (c *Client) send(ctx context.Context, r request) (*rest.Response, error) {
	token := r.token
	if token == "" {
		token = c.anonKey
	}
	headers := map[string]string{
		"apikey":        c.anonKey,
		"Authorization": "Bearer " + token,
	}
	for k, v := range r.headers {
		headers[k] = v
	}

	var body []byte
	switch b := r.body.(type) {
	case nil:
	case []byte:
		body = b
	default:
		var err error
		if body, err = json.Marshal(b); err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	res, err := c.rest.SendWithContext(ctx, rest.Request{
		Method:      r.method,
		BaseURL:     c.baseURL + r.path,
		Headers:     headers,
		QueryParams: r.query,
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.method, r.path)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, errors.Wrapf(parseAPIError(res), "%s %s", r.method, r.path)
	}
	return res, nil
}

// parseAPIError reads the error formats of GoTrue, Storage and PostgREST.
func parseAPIError(res *rest.Response) *APIError {
	var payload struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		StatusCode       string          `json:"statusCode"`
	}
	apiErr := &APIError{StatusCode: res.StatusCode}
	if err := json.Unmarshal([]byte(res.Body), &payload); err != nil {
		apiErr.Message = strings.TrimSpace(res.Body)
		return apiErr
	}

	// PostgREST sends a string code, GoTrue a numeric one
	var code string
	if err := json.Unmarshal(payload.Code, &code); err == nil {
		apiErr.Code = code
	} else if payload.ErrorCode != "" {
		apiErr.Code = payload.ErrorCode
	} else if payload.Error != "" && payload.Message != "" {
		apiErr.Code = payload.Error
	}

	for _, msg := range []string{payload.Message, payload.Msg, payload.ErrorDescription, payload.Error} {
		if msg != "" {
			apiErr.Message = msg
			break
		}
	}
	return apiErr
}

// IsAPIError reports whether err is an *APIError with one of the given status codes.
func IsAPIError(err error, statusCodes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, sc := range statusCodes {
		if apiErr.StatusCode == sc {
			return true
		}
	}
	return len(statusCodes) == 0
}
