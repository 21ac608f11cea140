package api

import (
	"net/http"

	"parking-service/internal/geo"
	"parking-service/internal/models"
	"parking-service/internal/service"

	"github.com/gin-gonic/gin"
)

type findSpotsQuery struct {
	Latitude  *float64 `form:"lat" binding:"required,latitude"`
	Longitude *float64 `form:"lng" binding:"required,longitude"`
	Radius    float64  `form:"radius" binding:"required,gt=0"`
	Limit     int      `form:"limit" binding:"omitempty,min=1"`
}

type reserveSpotRequest struct {
	DurationMinutes int `json:"duration_minutes" binding:"required,min=1"`
}

type startSessionRequest struct {
	Latitude      *float64 `json:"latitude" binding:"required,latitude"`
	Longitude     *float64 `json:"longitude" binding:"required,longitude"`
	Address       string   `json:"address"`
	Organization  string   `json:"organization" binding:"required"`
	Floor         string   `json:"floor"`
	SpotLabel     string   `json:"spot_label"`
	HourlyRate    float64  `json:"hourly_rate" binding:"required"`
	ReservationID string   `json:"reservation_id"`
}

type extendSessionRequest struct {
	ExtraMinutes int `json:"extra_minutes" binding:"required,min=1,max=1440"`
}

type listSessionsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=active completed cancelled paid"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// findSpots handles nearby spot search
func (h *Handler) findSpots(c *gin.Context) {
	var q findSpotsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	center := geo.Coordinate{Latitude: *q.Latitude, Longitude: *q.Longitude}
	spots, err := h.spots.FindSpots(c.Request.Context(), center, q.Radius, q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"spots": spots, "count": len(spots)})
}

// reserveSpot handles spot reservation
func (h *Handler) reserveSpot(c *gin.Context) {
	var req reserveSpotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.spots.Reserve(c.Request.Context(), c.Param("id"), callerID(c), req.DurationMinutes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// startSession handles session start
func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sess, err := h.sessions.Start(c.Request.Context(), service.StartSessionRequest{
		UserID: callerID(c),
		Location: models.Location{
			Latitude:     *req.Latitude,
			Longitude:    *req.Longitude,
			Address:      req.Address,
			Organization: req.Organization,
			Floor:        req.Floor,
			SpotLabel:    req.SpotLabel,
		},
		HourlyRate:    req.HourlyRate,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sess)
}

// listSessions handles session history
func (h *Handler) listSessions(c *gin.Context) {
	var q listSessionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), callerID(c), models.SessionFilter{
		Status: q.Status,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// getSession handles get session by ID
func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) extendSession(c *gin.Context) {
	var req extendSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sess, err := h.sessions.Extend(c.Request.Context(), c.Param("id"), callerID(c), req.ExtraMinutes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) endSession(c *gin.Context) {
	sess, err := h.sessions.End(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) cancelSession(c *gin.Context) {
	sess, err := h.sessions.Cancel(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// userStats returns the caller's account counters
func (h *Handler) userStats(c *gin.Context) {
	stats, err := h.sessions.Stats(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
