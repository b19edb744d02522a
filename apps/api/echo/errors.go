package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

var errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "not found")

// accountError is the body of a failed account operation.
type accountError struct {
	Error        string            `json:"error"`
	Kind         account.Kind      `json:"kind"`
	State        account.State     `json:"state"`
	Severe       bool              `json:"severe"`
	AttemptID    string            `json:"attempt_id,omitempty"`
	IdentityID   string            `json:"identity_id,omitempty"`
	Email        string            `json:"email,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	AdminSession *account.Session  `json:"admin_session,omitempty"`
}

func accountErrorStatus(kind account.Kind) int {
	switch kind {
	case account.KindValidationFailed:
		return http.StatusBadRequest
	case account.KindNotSignedIn, account.KindSessionEmailMissing:
		return http.StatusUnauthorized
	case account.KindNotAdmin:
		return http.StatusForbidden
	case account.KindDuplicateEmail, account.KindDuplicateTeacherCode, account.KindInProgress:
		return http.StatusConflict
	case account.KindLookupFailed, account.KindUploadFailed, account.KindIdentityCreationFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fieldsMap(flds []core.FieldError) map[string]string {
	if len(flds) == 0 {
		return nil
	}
	m := make(map[string]string, len(flds))
	for _, fe := range flds {
		m[fe.Field] = fe.Error
	}
	return m
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var accErr *account.Error
		var valErr *core.ValidationError
		var vErrs validator.ValidationErrors
		var httpErr *echo.HTTPError

		switch {
		case errors.As(err, &accErr):
			code = accountErrorStatus(accErr.Kind)
			message = accountError{
				Error:        accErr.Message(),
				Kind:         accErr.Kind,
				State:        accErr.State,
				Severe:       accErr.Severe(),
				AttemptID:    accErr.AttemptID,
				IdentityID:   accErr.IdentityID,
				Email:        accErr.Email,
				Fields:       fieldsMap(accErr.Fields),
				AdminSession: accErr.Session,
			}
			// orphaning failures are reported by the provisioner
			if code == http.StatusInternalServerError && !accErr.Orphaned() {
				logger.Error(fmt.Sprintf("account error: %v", err), logArgs(ctx, err)...)
			}
		case errors.As(err, &valErr):
			code = http.StatusBadRequest
			if len(valErr.Fields) > 0 {
				message = fieldsMap(valErr.Fields)
			} else {
				message = valErr.Error()
			}
		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			message = fieldsMap(core.TranslateValidationErrors(vErrs, translator).Fields)
		case errors.Is(err, account.ErrProfileNotFound):
			code = errHttpNotFound.Code
			message = errHttpNotFound.Message
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, logArgs(ctx, errors.Wrap(err, msg))...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			if _, ok := message.(string); ok {
				message = err.Error()
			}
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// logArgs adds the acting session, when there is one.
func logArgs(ctx echo.Context, err error) []interface{} {
	args := []interface{}{err}
	if sess, sErr := getContextSession(ctx); sErr == nil {
		args = append(args, *sess)
	}
	return args
}
