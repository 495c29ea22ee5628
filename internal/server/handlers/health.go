package handlers

import (
	"context"

	"github.com/maruel/arena/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
	engine  string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version, engine string) *HealthHandler {
	return &HealthHandler{version: version, engine: engine}
}

// Health handles health check requests.
func (h *HealthHandler) Health(ctx context.Context, req *dto.HealthRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{Status: "ok", Version: h.version, Engine: h.engine}, nil
}
