package model

import "fmt"

// Query limit bounds. Out-of-range limits are clamped, not rejected.
const (
	MinQueryLimit     = 1
	MaxQueryLimit     = 1000
	DefaultQueryLimit = 10
)

// MemoryQuery describes a memory retrieval request. Kinds, Categories and
// Tags are hard filters: entries failing any of them are excluded before
// scoring.
type MemoryQuery struct {
	Text                string       `json:"text,omitempty"`
	UserID              string       `json:"userId"`
	Kinds               []MemoryKind `json:"kinds,omitempty"`
	Categories          []string     `json:"categories,omitempty"`
	Tags                []string     `json:"tags,omitempty"`
	MinConfidence       float64      `json:"minConfidence,omitempty"`
	MinImportance       float64      `json:"minImportance,omitempty"`
	Limit               int          `json:"limit,omitempty"`
	IncludeExpired      bool         `json:"includeExpired,omitempty"`
	SimilarityThreshold float64      `json:"similarityThreshold,omitempty"`

	// SkipAccessUpdate suppresses the access-count bump on served
	// entries. Maintenance reads (pruning, statistics) set it so they do
	// not distort retention scores.
	SkipAccessUpdate bool `json:"skipAccessUpdate,omitempty"`
}

// Normalize clamps the limit into [MinQueryLimit, MaxQueryLimit] and
// applies the default when unset.
func (q *MemoryQuery) Normalize() {
	switch {
	case q.Limit == 0:
		q.Limit = DefaultQueryLimit
	case q.Limit < MinQueryLimit:
		q.Limit = MinQueryLimit
	case q.Limit > MaxQueryLimit:
		q.Limit = MaxQueryLimit
	}
}

// Validate checks the query for structural problems.
func (q *MemoryQuery) Validate() error {
	if q.UserID == "" {
		return fmt.Errorf("%w: query user id is required", ErrValidation)
	}
	if q.MinConfidence < 0 || q.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be within [0,1]", ErrValidation)
	}
	if q.MinImportance < 0 || q.MinImportance > 1 {
		return fmt.Errorf("%w: min importance must be within [0,1]", ErrValidation)
	}
	if q.SimilarityThreshold < 0 || q.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold must be within [0,1]", ErrValidation)
	}
	return nil
}

// Matches applies every hard filter except expiry, which depends on the
// evaluation instant and is checked by the backend.
func (q *MemoryQuery) Matches(e *MemoryEntry) bool {
	if e.UserID != q.UserID {
		return false
	}
	if len(q.Kinds) > 0 && !containsKind(q.Kinds, e.Kind) {
		return false
	}
	if len(q.Categories) > 0 && !containsString(q.Categories, e.Metadata.Category) {
		return false
	}
	for _, tag := range q.Tags {
		if !e.Metadata.HasTag(tag) {
			return false
		}
	}
	if e.Metadata.Confidence < q.MinConfidence {
		return false
	}
	if e.Metadata.Importance < q.MinImportance {
		return false
	}
	return true
}

func containsKind(kinds []MemoryKind, k MemoryKind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
