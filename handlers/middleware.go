package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// OwnerMiddleware trusts the authenticated owner id forwarded by the
// upstream auth layer. This service never authenticates anyone itself.
func OwnerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get("X-Owner-ID")
		if raw == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing owner identity"})
		}
		ownerID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || ownerID == 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "bad owner identity"})
		}
		c.Set("owner_id", uint(ownerID))
		return next(c)
	}
}

func ownerID(c echo.Context) uint {
	return c.Get("owner_id").(uint)
}
