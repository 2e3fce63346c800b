package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/husbylabs/warptables/internal/core"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub: hub,
		log: logger,
	}
}

// TableResponse is a table in REST responses.
type TableResponse struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// TablesResponse lists tables.
type TablesResponse struct {
	Tables []TableResponse `json:"tables"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListTables returns every table the server knows about.
// GET /api/tables
func (h *APIHandlers) ListTables(c *gin.Context) {
	tables, err := h.hub.Tables(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list tables")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := TablesResponse{Tables: make([]TableResponse, 0, len(tables))}
	for _, t := range tables {
		resp.Tables = append(resp.Tables, TableResponse{
			ID:        t.ID,
			Name:      t.Name,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}
