// Package models defines the domain types for Ansuz.
package models

import "time"

// Page represents one page of the notebook: a Markdown file addressed by its
// colon-separated page name mirroring the folder tree.
type Page struct {
	Name        string                 `json:"name"`
	Path        string                 `json:"path"`
	Content     []byte                 `json:"-"`
	Body        string                 `json:"body"`
	Frontmatter map[string]interface{} `json:"frontmatter,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Links       []string               `json:"links,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Checksum    string                 `json:"checksum"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// PageMetadata is a lightweight representation returned by list operations.
// Placeholder pages are listed but have no content and no checksum.
type PageMetadata struct {
	Name        string `json:"name"`
	HasContent  bool   `json:"has_content"`
	Placeholder bool   `json:"placeholder"`
}

// Link represents a directed edge between two pages.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Rel    string `json:"rel"` // "absolute", "relative" or "floating"
}
