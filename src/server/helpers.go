package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock-datahub/src/helpers"
	"stock-datahub/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------

// writeError maps the error taxonomy onto a status code and a stable kind.
func writeError(c *gin.Context, err error) {
	status, kind := classify(err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func classify(err error) (int, string) {
	var fallback *helpers.FallbackError

	switch {
	case errors.Is(err, helpers.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &fallback):
		return http.StatusBadGateway, "providers_failed"
	case helpers.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case helpers.IsNoData(err):
		return http.StatusNotFound, "no_data"
	case helpers.IsConfigurationError(err):
		return http.StatusServiceUnavailable, "configuration"
	case helpers.IsCacheError(err):
		return http.StatusInternalServerError, "cache"
	}

	if kind, ok := helpers.ProviderKindOf(err); ok {
		return http.StatusBadGateway, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

// -----------------------------------------------------------------------------

// parseDay accepts YYYYMMDD or YYYY-MM-DD; empty means unset.
func parseDay(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{models.CompactDateLayout, models.DateLayout} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q", helpers.ErrInvalidInput, v)
}

func parseDays(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 3650 {
		return 0, fmt.Errorf("%w: bad days %q", helpers.ErrInvalidInput, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
