// Package search implements the stateless query layer over a metadata index
// snapshot. Every function treats its input as read-only and returns fresh
// slices; nothing here touches the file system or the live index.
package search

import (
	"sort"
	"strings"

	"github.com/sm-moshi/aimemory-sub003/internal/models"
)

// Query runs the full pipeline: filter, free-text search, sort (or rank),
// then paginate. The returned result echoes the effective options.
func Query(entries []models.MetadataIndexEntry, opts models.SearchOptions) models.SearchResult {
	matched := Filter(entries, opts.Filter)
	if q := strings.TrimSpace(opts.Query); q != "" {
		matched = TextSearch(matched, q)
	}

	switch {
	case opts.SortBy != "":
		Sort(matched, opts.SortBy, opts.SortOrder)
	case strings.TrimSpace(opts.Query) != "":
		Rank(matched, opts.Query)
	default:
		Sort(matched, models.SortByUpdated, "desc")
	}

	page, total, hasMore := Paginate(matched, opts.Offset, opts.Limit)
	return models.SearchResult{
		Results: page,
		Total:   total,
		HasMore: hasMore,
		Options: opts,
	}
}

// Filter returns the entries satisfying every supplied predicate. The Tags
// predicate is an OR within its dimension: one shared tag is enough.
func Filter(entries []models.MetadataIndexEntry, f *models.MetadataFilter) []models.MetadataIndexEntry {
	out := make([]models.MetadataIndexEntry, 0, len(entries))
	for _, e := range entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e models.MetadataIndexEntry, f *models.MetadataFilter) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(e, f.Tags) {
		return false
	}
	if f.ValidationStatus != nil && e.ValidationStatus != *f.ValidationStatus {
		return false
	}
	if f.CreatedAfter != nil && e.Created.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && e.Created.After(*f.CreatedBefore) {
		return false
	}
	if f.UpdatedAfter != nil && e.Updated.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && e.Updated.After(*f.UpdatedBefore) {
		return false
	}
	if f.MinSize != nil && e.Metrics.SizeBytes < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && e.Metrics.SizeBytes > *f.MaxSize {
		return false
	}
	if f.MinLines != nil && e.Metrics.LineCount < *f.MinLines {
		return false
	}
	if f.MaxLines != nil && e.Metrics.LineCount > *f.MaxLines {
		return false
	}
	return true
}

func hasAnyTag(e models.MetadataIndexEntry, tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// FilterAllTags returns entries carrying every one of the given tags. This is
// a deliberately separate contract from the OR semantics inside Filter.
func FilterAllTags(entries []models.MetadataIndexEntry, tags []string) []models.MetadataIndexEntry {
	out := make([]models.MetadataIndexEntry, 0, len(entries))
	for _, e := range entries {
		if hasAllTags(e, tags) {
			out = append(out, e)
		}
	}
	return out
}

func hasAllTags(e models.MetadataIndexEntry, tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range e.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TextSearch keeps entries whose searchable text (title, description, path,
// type, tags) contains query, case-insensitively.
func TextSearch(entries []models.MetadataIndexEntry, query string) []models.MetadataIndexEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]models.MetadataIndexEntry(nil), entries...)
	}
	out := make([]models.MetadataIndexEntry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e.SearchableText(), q) {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders entries in place by the given key. Ties always break on
// relative path ascending so pagination stays deterministic.
func Sort(entries []models.MetadataIndexEntry, sortBy, order string) {
	desc := strings.EqualFold(order, "desc")
	sort.SliceStable(entries, func(i, j int) bool {
		c := compareBy(entries[i], entries[j], sortBy)
		if c == 0 {
			return entries[i].RelativePath < entries[j].RelativePath
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(a, b models.MetadataIndexEntry, sortBy string) int {
	switch sortBy {
	case models.SortByCreated:
		return a.Created.Compare(b.Created)
	case models.SortByTitle:
		return strings.Compare(a.Title, b.Title)
	case models.SortByPath:
		return strings.Compare(a.RelativePath, b.RelativePath)
	case models.SortBySize:
		switch {
		case a.Metrics.SizeBytes < b.Metrics.SizeBytes:
			return -1
		case a.Metrics.SizeBytes > b.Metrics.SizeBytes:
			return 1
		}
		return 0
	case models.SortByType:
		return strings.Compare(a.Type, b.Type)
	default: // updated
		return a.Updated.Compare(b.Updated)
	}
}

// Rank orders entries in place by relevance to query, highest score first.
// Ties break on most-recently-updated, then path.
func Rank(entries []models.MetadataIndexEntry, query string) {
	q := strings.ToLower(strings.TrimSpace(query))
	scores := make(map[string]int, len(entries))
	for _, e := range entries {
		scores[e.RelativePath] = score(e, q)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		sa, sb := scores[a.RelativePath], scores[b.RelativePath]
		if sa != sb {
			return sa > sb
		}
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.After(b.Updated)
		}
		return a.RelativePath < b.RelativePath
	})
}

func score(e models.MetadataIndexEntry, q string) int {
	if q == "" {
		return 0
	}
	s := 0
	title := strings.ToLower(e.Title)
	if title == q {
		s += 10
	} else if strings.Contains(title, q) {
		s += 5
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			s += 3
			break
		}
	}
	if strings.Contains(strings.ToLower(e.RelativePath), q) {
		s += 2
	}
	if strings.Contains(strings.ToLower(e.Description), q) {
		s++
	}
	if strings.Contains(strings.ToLower(e.Type), q) {
		s++
	}
	return s
}

// Paginate slices entries after filtering and sorting. A non-positive limit
// returns everything from offset onward.
func Paginate(entries []models.MetadataIndexEntry, offset, limit int) (page []models.MetadataIndexEntry, total int, hasMore bool) {
	total = len(entries)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []models.MetadataIndexEntry{}, total, false
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page = append([]models.MetadataIndexEntry(nil), entries[offset:end]...)
	return page, total, offset+len(page) < total
}

// DistinctTags returns the sorted set of tags across the snapshot.
func DistinctTags(entries []models.MetadataIndexEntry) []string {
	return sortedKeys(TagFrequency(entries))
}

// DistinctTypes returns the sorted set of document types across the snapshot.
func DistinctTypes(entries []models.MetadataIndexEntry) []string {
	return sortedKeys(TypeFrequency(entries))
}

// TagFrequency counts how many entries carry each tag.
func TagFrequency(entries []models.MetadataIndexEntry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		for _, tag := range e.Tags {
			out[tag]++
		}
	}
	return out
}

// TypeFrequency counts entries per document type.
func TypeFrequency(entries []models.MetadataIndexEntry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[e.Type]++
	}
	return out
}

// MostRecent returns up to n entries ordered most-recently-updated first.
func MostRecent(entries []models.MetadataIndexEntry, n int) []models.MetadataIndexEntry {
	out := append([]models.MetadataIndexEntry(nil), entries...)
	Sort(out, models.SortByUpdated, "desc")
	return truncate(out, n)
}

// LargestFiles returns up to n entries ordered largest first.
func LargestFiles(entries []models.MetadataIndexEntry, n int) []models.MetadataIndexEntry {
	out := append([]models.MetadataIndexEntry(nil), entries...)
	Sort(out, models.SortBySize, "desc")
	return truncate(out, n)
}

func truncate(entries []models.MetadataIndexEntry, n int) []models.MetadataIndexEntry {
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
