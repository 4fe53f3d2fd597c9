package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func getCalendar(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := cfg.Auth.CounsellorIDFromAuthHeader(authHeader(c)); err != nil {
			return jsonError(c, http.StatusUnauthorized, err.Error())
		}
		entries, err := cfg.Store.FetchCalendar(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, entries)
	}
}
