// Package handlers implements the gateway's HTTP surface: workflow CRUD and
// publish, external triggers, execution queries, scheduled events, and
// inbound provider webhooks.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/common/repository"
)

// Logger is the minimal logging surface the handlers need.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]interface{}{"error": msg})
}

// repoError maps storage errors onto the API error contract.
func repoError(c echo.Context, err error, notFoundMsg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, notFoundMsg)
	}
	return errJSON(c, http.StatusInternalServerError, "storage error")
}

// limitParam parses ?limit with a default and an upper bound.
func limitParam(c echo.Context, def, max int) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
