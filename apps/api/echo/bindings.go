package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
)

const orderingParam = "ordering"

// bindOrdering reads "?ordering=-created_at"; only the first field is used.
func bindOrdering(ctx echo.Context) (core.DBOrdering, bool) {
	val := strings.TrimSpace(ctx.QueryParam(orderingParam))
	if val == "" {
		return core.DBOrdering{}, false
	}
	field := strings.TrimSpace(strings.Split(val, ",")[0])
	descending := strings.HasPrefix(field, "-")
	if descending {
		field = field[1:] // drop "-"
	}
	return core.DBOrdering{Field: field, Ascending: !descending}, field != ""
}

// bindQueryFilter reads "?role=&search=&is_active=&ordering=".
func bindQueryFilter(ctx echo.Context) (account.QueryFilter, error) {
	var filter account.QueryFilter
	if role := ctx.QueryParam("role"); role != "" {
		if r, ok := account.ParseRole(role); ok {
			filter.Role = r
		} else {
			filter.Role = account.Role(role) // rejected by the service
		}
	}
	filter.Search = ctx.QueryParam("search")

	isActive, err := parseBool("is_active", ctx.QueryParam("is_active"))
	if err != nil {
		return account.QueryFilter{}, err
	}
	filter.IsActive = isActive

	if ord, ok := bindOrdering(ctx); ok {
		filter.Ordering = ord
	}
	return filter, nil
}
