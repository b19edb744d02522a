package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

type profileApi struct {
	svc *account.Service
}

func registerProfileAPI(g *echo.Group, svc *account.Service) {
	api := profileApi{svc: svc}

	pg := g.Group("/profiles")
	pg.GET("", api.query)
	pg.PATCH("/:role/:email", api.setActive)
}

type setActivePayload struct {
	IsActive *bool `json:"is_active"`
}

// Handlers

func (api *profileApi) query(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}

	profs, err := api.svc.Query(ctx.Request().Context(), sess, filter)
	if err != nil {
		return errors.Wrap(err, "querying profiles")
	}
	return ctx.JSON(http.StatusOK, profs)
}

func (api *profileApi) setActive(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	role, ok := account.ParseRole(ctx.Param("role"))
	if !ok {
		return errHttpNotFound
	}

	var data setActivePayload
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if data.IsActive == nil {
		return core.NewValidationError(nil, core.FieldError{Field: "is_active", Error: "this field is required"})
	}

	prof, err := api.svc.SetActive(ctx.Request().Context(), sess, role, ctx.Param("email"), *data.IsActive)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, prof)
}

// parseBool is strconv.ParseBool reported as a field error.
func parseBool(fld, val string) (*bool, error) {
	if val == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, core.NewValidationError(nil, core.FieldError{Field: fld, Error: fld + " must be true or false"})
	}
	return &b, nil
}
