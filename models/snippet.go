package models

import (
	"time"
)

// Field limits, counted in characters (Unicode code points).
const (
	MaxTitleLength   = 100
	MaxContentLength = 50000
)

// Snippet represents a stored code snippet. It is written once and never
// mutated afterwards.
type Snippet struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// IsExpired reports whether the snippet is logically dead at now.
func (s *Snippet) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy that shares no state with s.
func (s *Snippet) Clone() *Snippet {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CreateSnippetRequest is the body of POST /snippets.
type CreateSnippetRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Expiry  string `json:"expiry"` // e.g. "10m", "1h", "1d"
}

// SnippetMeta describes a snippet without its content.
type SnippetMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int       `json:"size"`
	Language  string    `json:"language"`
	ExpiresIn int64     `json:"expires_in"` // seconds
}
