package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: probes, metrics and the login itself.
var publicPaths = map[string]bool{
	"/health":         true,
	"/health/db":      true,
	"/metrics":        true,
	"/api/auth/login": true,
}

// AuthSkipper matches on the route pattern, so it only works after routing.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
