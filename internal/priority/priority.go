// Package priority scores memory entries for retention and prunes the
// ones that fall under the configured threshold.
package priority

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/store"
)

// accessCap bounds the frequency signal; beyond this many accesses the
// signal saturates at 1.
const accessCap = 100

// Weights tune the retention score. They should sum to 1 for a [0,1]
// score range but are not required to.
type Weights struct {
	Recency    float64
	Frequency  float64
	Importance float64
	Confidence float64
}

// DefaultWeights returns the stock retention weights.
func DefaultWeights() Weights {
	return Weights{Recency: 0.35, Frequency: 0.25, Importance: 0.25, Confidence: 0.15}
}

// Scorer computes retention scores. It is pure and safe for concurrent
// use.
type Scorer struct {
	Weights  Weights
	HalfLife time.Duration
}

// NewScorer applies defaults for zero-valued fields.
func NewScorer(w Weights, halfLife time.Duration) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	return &Scorer{Weights: w, HalfLife: halfLife}
}

// Score returns the retention score of the entry at the given instant.
// Higher means more worth keeping.
func (s *Scorer) Score(e *model.MemoryEntry, now time.Time) float64 {
	accessed := e.LastAccessed
	if accessed.IsZero() {
		accessed = e.CreatedAt
	}
	recency := 1.0
	if accessed.Before(now) {
		recency = math.Exp(-math.Ln2 * float64(now.Sub(accessed)) / float64(s.HalfLife))
	}

	count := e.Metadata.AccessCount
	if count > accessCap {
		count = accessCap
	}
	frequency := math.Log1p(float64(count)) / math.Log1p(accessCap)

	return s.Weights.Recency*recency +
		s.Weights.Frequency*frequency +
		s.Weights.Importance*e.Metadata.Importance +
		s.Weights.Confidence*e.Metadata.Confidence
}

// Report summarizes one pruning pass.
type Report struct {
	Scanned int `json:"scanned"`
	Pruned  int `json:"pruned"`
	Kept    int `json:"kept"`
}

// Pruner removes low-value entries for a user.
type Pruner struct {
	store     store.Store
	scorer    *Scorer
	threshold float64
	log       zerolog.Logger
}

// NewPruner builds a pruner deleting entries scoring under threshold.
func NewPruner(st store.Store, scorer *Scorer, threshold float64, log zerolog.Logger) *Pruner {
	return &Pruner{store: st, scorer: scorer, threshold: threshold, log: log}
}

// Prune scores every entry of the user and deletes those under the
// threshold. Entries referenced by a retained entry's RelatedMemories are
// kept for this pass. When a referenced entry is deleted anyway because
// it scores under the floor (half the threshold), the dangling reference
// is removed from the referrer before the target goes.
func (p *Pruner) Prune(ctx context.Context, userID string) (*Report, error) {
	entries, err := p.store.RetrieveMemories(ctx, model.MemoryQuery{
		UserID:           userID,
		Limit:            model.MaxQueryLimit,
		IncludeExpired:   true,
		SkipAccessUpdate: true,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	floor := p.threshold / 2

	scores := make(map[string]float64, len(entries))
	byID := make(map[string]*model.MemoryEntry, len(entries))
	for _, e := range entries {
		scores[e.ID] = p.scorer.Score(e, now)
		byID[e.ID] = e
	}

	// referrers[x] holds retained entries that list x in RelatedMemories.
	referrers := make(map[string][]*model.MemoryEntry)
	for _, e := range entries {
		if scores[e.ID] < p.threshold {
			continue
		}
		for _, ref := range e.Metadata.RelatedMemories {
			referrers[ref] = append(referrers[ref], e)
		}
	}

	report := &Report{Scanned: len(entries)}
	for _, e := range entries {
		score := scores[e.ID]
		if score >= p.threshold {
			report.Kept++
			continue
		}
		if refs := referrers[e.ID]; len(refs) > 0 {
			if score >= floor {
				report.Kept++
				continue
			}
			for _, referrer := range refs {
				referrer.Metadata.RelatedMemories = remove(referrer.Metadata.RelatedMemories, e.ID)
				if _, err := p.store.StoreMemory(ctx, referrer); err != nil {
					return report, err
				}
			}
		}
		if err := p.store.DeleteMemory(ctx, e.ID); err != nil {
			return report, err
		}
		p.log.Debug().Str("memory_id", e.ID).Float64("score", score).Msg("pruned memory entry")
		report.Pruned++
	}
	return report, nil
}

func remove(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
