package handler

import (
	"net/http"
	"strings"

	"go-treewiki/internal/logger"
	"go-treewiki/internal/middleware"
	"go-treewiki/internal/service"
)

// SearchHandler serves full-text search.
type SearchHandler struct {
	wiki service.WikiServicer
	view middleware.Renderer
	log  logger.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(ws service.WikiServicer, v middleware.Renderer, log logger.Logger) *SearchHandler {
	return &SearchHandler{wiki: ws, view: v, log: log}
}

// searchHandler renders the hits for the "query" parameter.
func (h *SearchHandler) searchHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	query := strings.TrimSpace(r.URL.Query().Get("query"))

	hits, err := h.wiki.Search(r.Context(), query)
	if err != nil {
		return appError(err, "Search failed")
	}
	nav, err := h.wiki.Nav(r.Context(), "")
	if err != nil {
		return appError(err, "Failed to load navigation")
	}

	return renderStatus(w, r, h.view, http.StatusOK, "search.html", map[string]interface{}{
		"Query": query,
		"Hits":  hits,
		"Nav":   nav,
	})
}
