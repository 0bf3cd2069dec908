// Package parser extracts the YAML frontmatter block and body from a
// Markdown memory-bank document.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the typed view of a document's frontmatter block. All
// fields are optional; zero values mean "not declared".
type Frontmatter struct {
	ID          string
	Type        string
	Title       string
	Description string
	Tags        []string
	Created     time.Time
	Updated     time.Time
}

// Result holds the output of parsing one document.
type Result struct {
	Frontmatter *Frontmatter // nil when the document has no frontmatter block
	Body        string
	Title       string // frontmatter title, else first H1, else empty
}

// rawFrontmatter mirrors the YAML shape before defaulting rules apply.
type rawFrontmatter struct {
	ID          string   `yaml:"id"`
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Created     string   `yaml:"created"`
	Updated     string   `yaml:"updated"`
}

// Parse splits data into frontmatter and body. A document without a leading
// --- block parses cleanly with a nil Frontmatter; a block that is present
// but not valid YAML is an error so that bulk indexing can report the file.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}, nil
}

func splitFrontmatter(data []byte) (*Frontmatter, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: treat the whole document as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var raw rawFrontmatter
	if err := yaml.Unmarshal(yamlBlock, &raw); err != nil {
		return nil, "", fmt.Errorf("parser: invalid frontmatter: %w", err)
	}

	fm := &Frontmatter{
		ID:          strings.TrimSpace(raw.ID),
		Type:        strings.TrimSpace(raw.Type),
		Title:       strings.TrimSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description),
		Tags:        cleanTags(raw.Tags),
		Created:     parseTime(raw.Created),
		Updated:     parseTime(raw.Updated),
	}
	return fm, body, nil
}

func cleanTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// parseTime accepts RFC 3339 timestamps and bare dates. Anything else is
// treated as undeclared.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// deriveTitle returns the declared title if present, otherwise the first H1.
func deriveTitle(fm *Frontmatter, body string) string {
	if fm != nil && fm.Title != "" {
		return fm.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
