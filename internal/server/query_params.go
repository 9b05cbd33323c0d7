package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obslogger "github.com/seeklabs/bloxscout/internal/observability/logger"
	"go.uber.org/zap"
)

// parseOptionalTime accepts RFC3339 or a bare date. Bare dates parse as
// UTC midnight; a bare end date snaps to the last instant of that day so
// a from/to pair is inclusive.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	if at, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &at, nil
	}

	day, err := time.ParseInLocation(time.DateOnly, trimmed, time.UTC)
	if err != nil {
		return nil, errors.New("invalid_time")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func obsLoggerFromContext(c *gin.Context) *zap.Logger {
	return obslogger.FromContext(c.Request.Context())
}
