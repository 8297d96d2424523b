package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/aggregate"
)

// handleUpstreamAggregate answers the cached upstream aggregation query.
// GET /basins/:id/upstream_aggregate?data_type=Rainfall&window=24h&depth=1
func (s *Server) handleUpstreamAggregate(c *gin.Context) {
	basinID := c.Param("id")

	window := c.DefaultQuery("window", "24h")
	depthStr := c.DefaultQuery("depth", "1")
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid depth"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	payload, err := s.svc.UpstreamAggregate(ctx, basinID, c.Query("data_type"), window, depth)
	if err != nil {
		s.respondAggregateError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// handleTimeseries serves the dashboard timeseries API.
// GET /monitoring/api/timeseries/?basin_id=B-1&data_type=Rainfall&start=...&end=...&resolution=auto
func (s *Server) handleTimeseries(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	result, err := s.svc.Timeseries(ctx, aggregate.TimeseriesQuery{
		BasinID:    c.Query("basin_id"),
		DataType:   c.Query("data_type"),
		Start:      c.Query("start"),
		End:        c.Query("end"),
		Resolution: c.Query("resolution"),
	})
	if err != nil {
		var tooLarge *aggregate.RawTooLargeError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"ok":    false,
				"error": "raw_too_large",
				"message": fmt.Sprintf(
					"Raw data has %d rows which is > %d. Request hourly or daily aggregation or narrow the date range.",
					tooLarge.Count, tooLarge.Ceiling),
				"data_count": tooLarge.Count,
				"resolution": "raw",
			})
			return
		}

		var clientErr *aggregate.ClientError
		if errors.As(err, &clientErr) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": clientErr.Detail})
			return
		}

		s.logger.Error("timeseries query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) respondAggregateError(c *gin.Context, err error) {
	var clientErr *aggregate.ClientError
	if errors.As(err, &clientErr) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": clientErr.Detail})
		return
	}

	var notFound *aggregate.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": notFound.Detail})
		return
	}

	s.logger.Error("upstream aggregate failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
}
