// Package models defines the domain types for the memory bank engine.
package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// ValidationStatus classifies an indexed document's schema check outcome.
type ValidationStatus string

const (
	ValidationValid          ValidationStatus = "valid"
	ValidationInvalid        ValidationStatus = "invalid"
	ValidationUnchecked      ValidationStatus = "unchecked"
	ValidationSchemaNotFound ValidationStatus = "schema_not_found"
)

// FileMetrics holds derived, per-read measurements of a document.
type FileMetrics struct {
	SizeBytes        int64  `json:"sizeBytes"`
	SizeHuman        string `json:"sizeHuman"`
	LineCount        int    `json:"lineCount"`
	ContentLineCount int    `json:"contentLineCount"` // body only, frontmatter excluded
	WordCount        int    `json:"wordCount"`
	CharCount        int    `json:"charCount"`
}

// ComputeMetrics derives FileMetrics from raw content and the body with the
// frontmatter block stripped.
func ComputeMetrics(content []byte, body string) FileMetrics {
	text := string(content)
	return FileMetrics{
		SizeBytes:        int64(len(content)),
		SizeHuman:        humanize.Bytes(uint64(len(content))),
		LineCount:        countLines(text),
		ContentLineCount: countLines(body),
		WordCount:        len(strings.Fields(text)),
		CharCount:        utf8.RuneCountInString(text),
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// MetadataIndexEntry is one record in the metadata index, one per document.
// RelativePath is the identity key; the index holds exactly one entry per path.
type MetadataIndexEntry struct {
	RelativePath     string           `json:"relativePath"`
	ID               string           `json:"id,omitempty"`
	Type             string           `json:"type"`
	Title            string           `json:"title,omitempty"`
	Description      string           `json:"description,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	Created          time.Time        `json:"created"`
	Updated          time.Time        `json:"updated"`
	Metrics          FileMetrics      `json:"fileMetrics"`
	ValidationStatus ValidationStatus `json:"validationStatus"`
	ValidationErrors []string         `json:"validationErrors,omitempty"`
	SchemaUsed       string           `json:"schemaUsed,omitempty"`
	Checksum         string           `json:"checksum,omitempty"`
	LastIndexed      time.Time        `json:"lastIndexed"`
}

// Clone returns a deep copy so snapshot holders cannot mutate index state.
func (e MetadataIndexEntry) Clone() MetadataIndexEntry {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.ValidationErrors != nil {
		out.ValidationErrors = append([]string(nil), e.ValidationErrors...)
	}
	return out
}

// SearchableText concatenates the fields free-text search and ranking match
// against.
func (e MetadataIndexEntry) SearchableText() string {
	parts := []string{e.Title, e.Description, e.RelativePath, e.Type, strings.Join(e.Tags, " ")}
	return strings.ToLower(strings.Join(parts, " "))
}

// MetadataFilter is a set of optional predicates ANDed together. Tags is an
// OR within the dimension: an entry matches when it carries at least one of
// the listed tags.
type MetadataFilter struct {
	Type             string            `json:"type,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	ValidationStatus *ValidationStatus `json:"validationStatus,omitempty"`
	CreatedAfter     *time.Time        `json:"createdAfter,omitempty"`
	CreatedBefore    *time.Time        `json:"createdBefore,omitempty"`
	UpdatedAfter     *time.Time        `json:"updatedAfter,omitempty"`
	UpdatedBefore    *time.Time        `json:"updatedBefore,omitempty"`
	MinSize          *int64            `json:"minSize,omitempty"`
	MaxSize          *int64            `json:"maxSize,omitempty"`
	MinLines         *int              `json:"minLines,omitempty"`
	MaxLines         *int              `json:"maxLines,omitempty"`
}

// Sort keys accepted by SearchOptions.
const (
	SortByUpdated = "updated"
	SortByCreated = "created"
	SortByTitle   = "title"
	SortByPath    = "path"
	SortBySize    = "size"
	SortByType    = "type"
)

// SearchOptions describes one query against the index snapshot.
type SearchOptions struct {
	Query     string          `json:"query,omitempty"`
	Filter    *MetadataFilter `json:"filter,omitempty"`
	SortBy    string          `json:"sortBy,omitempty"`
	SortOrder string          `json:"sortOrder,omitempty"` // "asc" | "desc"
	Offset    int             `json:"offset,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// SearchResult carries one filtered, sorted, paginated page.
type SearchResult struct {
	Results []MetadataIndexEntry `json:"results"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"hasMore"`
	Options SearchOptions        `json:"options"`
}

// FileError records one per-file failure during a bulk rebuild.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// IndexRebuildResult summarises a full rebuild.
type IndexRebuildResult struct {
	FilesProcessed int           `json:"filesProcessed"`
	FilesIndexed   int           `json:"filesIndexed"`
	FilesErrored   int           `json:"filesErrored"`
	Errors         []FileError   `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// IndexStats aggregates the current index contents.
type IndexStats struct {
	TotalFiles   int            `json:"totalFiles"`
	TotalSize    int64          `json:"totalSize"`
	TotalLines   int            `json:"totalLines"`
	ByValidation map[string]int `json:"byValidation"`
	ByType       map[string]int `json:"byType"`
	ByTag        map[string]int `json:"byTag"`
	LastBuild    time.Time      `json:"lastBuild"`
}
