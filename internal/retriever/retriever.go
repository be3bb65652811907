// Package retriever ranks hard-filtered memory candidates with a weighted
// blend of full-text, recency, semantic, importance and confidence signals,
// and caches results per normalized query.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/embeddings"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// candidateFactor widens the backend fetch so scoring can reorder beyond
// the caller's limit.
const candidateFactor = 5

// Config holds the scoring weights and cache policy.
type Config struct {
	WeightFullText   float64
	WeightRecency    float64
	WeightSemantic   float64
	WeightImportance float64
	WeightConfidence float64
	RecencyHalfLife  time.Duration
	CacheTTL         time.Duration
}

// DefaultConfig returns the stock weights.
func DefaultConfig() Config {
	return Config{
		WeightFullText:   0.35,
		WeightRecency:    0.20,
		WeightSemantic:   0.25,
		WeightImportance: 0.10,
		WeightConfidence: 0.10,
		RecencyHalfLife:  7 * 24 * time.Hour,
		CacheTTL:         30 * time.Second,
	}
}

// RecencyScore maps the age of t relative to now onto (0, 1] with an
// exponential half-life decay.
func (c Config) RecencyScore(now, t time.Time) float64 {
	if t.IsZero() || !t.Before(now) {
		return 1.0
	}
	age := now.Sub(t)
	return math.Exp(-math.Ln2 * float64(age) / float64(c.RecencyHalfLife))
}

// Retriever layers scoring and caching over a store. The gateway is
// optional; without one, semantic scoring is skipped entirely.
type Retriever struct {
	store   store.Store
	gateway embeddings.Gateway
	cfg     Config
	cache   *gocache.Cache
	log     zerolog.Logger
}

// New builds a retriever. A nil gateway disables the semantic signal.
func New(st store.Store, gw embeddings.Gateway, cfg Config, log zerolog.Logger) *Retriever {
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = DefaultConfig().RecencyHalfLife
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Retriever{
		store:   st,
		gateway: gw,
		cfg:     cfg,
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		log:     log,
	}
}

// Search retrieves, scores and ranks memories for the query. Results are
// ordered by score desc, then LastAccessed desc, then ID asc, and cached
// until the TTL elapses or the user's entries are invalidated.
func (r *Retriever) Search(ctx context.Context, q model.MemoryQuery) ([]*model.MemoryEntry, error) {
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(q)
	if v, ok := r.cache.Get(key); ok {
		return cloneEntries(v.([]*model.MemoryEntry)), nil
	}

	// Candidates are fetched without the access bump: scoring needs the
	// true LastAccessed values, and entries that rank below the cut were
	// never served. The served slice is touched explicitly below.
	widened := q
	widened.Limit = q.Limit * candidateFactor
	if widened.Limit > model.MaxQueryLimit {
		widened.Limit = model.MaxQueryLimit
	}
	widened.SkipAccessUpdate = true
	cands, err := r.store.RetrieveMemories(ctx, widened)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	semantic := false
	if q.Text != "" && r.gateway != nil {
		vec, err := r.gateway.EmbedText(ctx, q.Text)
		if err != nil {
			r.log.Warn().Err(err).Msg("embedding unavailable, degrading to non-semantic scoring")
		} else {
			queryVec = vec
			semantic = true
		}
	}

	now := time.Now().UTC()
	type scored struct {
		entry *model.MemoryEntry
		score float64
	}
	seen := make(map[string]bool, len(cands))
	ranked := make([]scored, 0, len(cands))
	for _, e := range cands {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true

		sem := 0.0
		if semantic && len(e.Metadata.Embedding) > 0 {
			sem = r.gateway.Similarity(queryVec, e.Metadata.Embedding)
			if sem < q.SimilarityThreshold {
				continue
			}
		}

		accessed := e.LastAccessed
		if accessed.IsZero() {
			accessed = e.CreatedAt
		}
		score := r.cfg.WeightFullText*overlapScore(q.Text, e.Content) +
			r.cfg.WeightRecency*r.cfg.RecencyScore(now, accessed) +
			r.cfg.WeightSemantic*sem +
			r.cfg.WeightImportance*e.Metadata.Importance +
			r.cfg.WeightConfidence*e.Metadata.Confidence
		ranked = append(ranked, scored{entry: e, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].entry.LastAccessed.Equal(ranked[j].entry.LastAccessed) {
			return ranked[i].entry.LastAccessed.After(ranked[j].entry.LastAccessed)
		}
		return ranked[i].entry.ID < ranked[j].entry.ID
	})

	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	out := make([]*model.MemoryEntry, len(ranked))
	for i, s := range ranked {
		out[i] = s.entry
	}

	if !q.SkipAccessUpdate && len(out) > 0 {
		ids := make([]string, len(out))
		for i, e := range out {
			ids[i] = e.ID
		}
		if err := r.store.TouchMemories(ctx, ids); err != nil {
			return nil, err
		}
		for _, e := range out {
			e.Touch(now)
		}
	}

	r.cache.Set(key, cloneEntries(out), gocache.DefaultExpiration)
	return out, nil
}

// InvalidateUser drops every cached result belonging to the user. Called
// by the engine after any memory write or delete.
func (r *Retriever) InvalidateUser(userID string) {
	prefix := userID + "|"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
}

// InvalidateAll empties the cache.
func (r *Retriever) InvalidateAll() {
	r.cache.Flush()
}

// overlapScore is the fraction of query terms present in the content.
func overlapScore(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lc := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lc, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func cacheKey(q model.MemoryQuery) string {
	kinds := make([]string, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = string(k)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%.3f|%.3f|%.3f|%d|%t",
		q.UserID,
		strings.ToLower(strings.TrimSpace(q.Text)),
		strings.Join(kinds, ","),
		strings.Join(q.Categories, ","),
		strings.Join(q.Tags, ","),
		q.MinConfidence, q.MinImportance, q.SimilarityThreshold,
		q.Limit, q.IncludeExpired)
}

func cloneEntries(in []*model.MemoryEntry) []*model.MemoryEntry {
	out := make([]*model.MemoryEntry, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
