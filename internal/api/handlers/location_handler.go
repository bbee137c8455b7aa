package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"trekkr/internal/api/middleware"
	"trekkr/internal/domain/entities"
	"trekkr/internal/services"
)

type LocationHandler struct {
	ingestService *services.IngestService
}

func NewLocationHandler(ingestService *services.IngestService) *LocationHandler {
	return &LocationHandler{
		ingestService: ingestService,
	}
}

// Timestamp accepts RFC 3339 times and naive ISO 8601 times. A value without
// an offset is taken as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp %q is not ISO 8601", raw)
}

// LocationPayload is one GPS fix as sent by the client.
//
// Go Learning Note — Pointer Fields for "required":
// The validator's `required` tag rejects zero values, and 0.0 is a perfectly
// valid latitude. Using *float64 turns "required" into "present in the JSON"
// while gte/lte still check the pointed-to value.
type LocationPayload struct {
	Latitude   *float64   `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" binding:"required,gte=-180,lte=180"`
	FineCellID string     `json:"fine_cell_id" binding:"required,max=32"`
	Timestamp  *Timestamp `json:"timestamp"`
}

func (p LocationPayload) point() entities.LocationPoint {
	point := entities.LocationPoint{
		Coordinate: entities.NewCoordinate(*p.Latitude, *p.Longitude),
		FineCellID: p.FineCellID,
	}
	if p.Timestamp != nil {
		ts := p.Timestamp.Time
		point.Timestamp = &ts
	}
	return point
}

// DevicePayload is the optional device metadata of an ingest request.
type DevicePayload struct {
	DeviceUUID *string `json:"device_uuid" binding:"omitempty,max=64"`
	DeviceName *string `json:"device_name" binding:"omitempty,max=100"`
	Platform   *string `json:"platform" binding:"omitempty,max=20"`
}

func (d DevicePayload) meta() entities.DeviceMeta {
	return entities.DeviceMeta{
		DeviceUUID: d.DeviceUUID,
		DeviceName: d.DeviceName,
		Platform:   d.Platform,
	}
}

type IngestLocationRequest struct {
	LocationPayload
	DevicePayload
}

// IngestBatchRequest carries the batch items. The size limit is enforced by
// the service so it follows configuration.
type IngestBatchRequest struct {
	Locations []LocationPayload `json:"locations" binding:"required,dive"`
	DevicePayload
}

// Ingest handles POST /api/v1/location/ingest
func (h *LocationHandler) Ingest(c *gin.Context) {
	var req IngestLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	userID := middleware.GetUserID(c)

	result, err := h.ingestService.Ingest(c.Request.Context(), userID, services.IngestRequest{
		Point:  req.point(),
		Device: req.meta(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// IngestBatch handles POST /api/v1/location/ingest/batch
func (h *LocationHandler) IngestBatch(c *gin.Context) {
	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	points := make([]entities.LocationPoint, len(req.Locations))
	for i, loc := range req.Locations {
		points[i] = loc.point()
	}

	userID := middleware.GetUserID(c)

	result, err := h.ingestService.IngestBatch(c.Request.Context(), userID, services.BatchRequest{
		Locations: points,
		Device:    req.meta(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
