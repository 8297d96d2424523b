package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// handleListBasins returns all basins.
// GET /basins
func (s *Server) handleListBasins(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	basins, err := s.store.ListBasins(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": basins,
		"meta": gin.H{
			"count": len(basins),
		},
	})
}

// handleGetBasin returns one basin by its external identifier.
// GET /basins/:id
func (s *Server) handleGetBasin(c *gin.Context) {
	basinID := c.Param("id")
	if basinID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "basin id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	basin, err := s.store.GetBasin(ctx, basinID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if basin == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "basin not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": basin})
}

// handleListDataTypes returns all data types.
// GET /data-types
func (s *Server) handleListDataTypes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	types, err := s.store.ListDataTypes(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": types,
		"meta": gin.H{
			"count": len(types),
		},
	})
}

// handleRecentObservations lists observations of one data type over the
// trailing N hours.
// GET /observations/recent?data_type=Rainfall&hours=24
func (s *Server) handleRecentObservations(c *gin.Context) {
	dataTypeName := c.Query("data_type")
	if dataTypeName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "data_type required"})
		return
	}

	hours := 24
	if hoursStr := c.Query("hours"); hoursStr != "" {
		parsed, err := strconv.Atoi(hoursStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid hours"})
			return
		}
		hours = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	dataType, err := s.store.GetDataType(ctx, dataTypeName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if dataType == nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "data_type not found"})
		return
	}

	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	observations, err := s.store.RecentObservations(ctx, dataType.ID, cutoff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": observations,
		"meta": gin.H{
			"count": len(observations),
			"hours": hours,
		},
	})
}
