package api

import (
	"github.com/sm-moshi/aimemory-sub003/internal/bankservice"
	"github.com/sm-moshi/aimemory-sub003/internal/cache"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
)

// WriteDocumentRequest is the request body for creating or replacing a document.
type WriteDocumentRequest struct {
	Content string `json:"content"`
}

// DocumentResponse carries a document's content plus its index entry when available.
type DocumentResponse struct {
	Path     string                     `json:"path"`
	Content  string                     `json:"content"`
	Metadata *models.MetadataIndexEntry `json:"metadata,omitempty"`
}

// DocumentListResponse wraps the full index listing.
type DocumentListResponse struct {
	Documents []models.MetadataIndexEntry `json:"documents"`
	Total     int                         `json:"total"`
}

// SearchResponse is the paginated search result (aliased from the domain layer).
type SearchResponse = models.SearchResult

// RebuildResponse summarises a completed index rebuild (aliased from the domain layer).
type RebuildResponse = models.IndexRebuildResult

// HealthResponse reports bank health (aliased from the domain layer).
type HealthResponse = bankservice.HealthReport

// StatsResponse bundles index and cache statistics.
type StatsResponse struct {
	Index models.IndexStats `json:"index"`
	Cache cache.Stats       `json:"cache"`
}
