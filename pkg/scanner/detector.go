package scanner

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Change pairs the previous and current observation of one entity with
// a human-readable summary of what moved.
type Change struct {
	Old     Entity   `json:"old"`
	New     Entity   `json:"new"`
	Fields  []string `json:"fields"`
	Summary string   `json:"summary"`
}

// ScanResult is the outcome of one scan tick.
type ScanResult struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Added      []Entity  `json:"added"`
	Changed    []Change  `json:"changed"`
	Removed    []Entity  `json:"removed"`
	Errors     []string  `json:"errors"`
	DurationMs int64     `json:"duration_ms"`
}

// entry is one cached entity, with removal bookkeeping for the grace
// period.
type entry struct {
	Entity    Entity     `json:"entity"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// Detector diffs an observed entity set against the known-entity map.
type Detector struct {
	// removedGrace is how long a disappeared entity is retained before
	// it is purged; a transient extraction failure should not flush the
	// map. Configurable, default 24h.
	removedGrace time.Duration

	now func() time.Time
}

// NewDetector creates a change detector with the given removal grace
// period.
func NewDetector(removedGrace time.Duration) *Detector {
	if removedGrace <= 0 {
		removedGrace = 24 * time.Hour
	}
	return &Detector{removedGrace: removedGrace, now: time.Now}
}

// Diff classifies observed entities against the known map, mutating the
// map in place to reflect the new observation:
//   - added: present now, previously unknown
//   - changed: present in both with differing content hashes
//   - removed: previously known, now absent; reported once, then
//     retained until the grace period elapses
func (d *Detector) Diff(known map[string]*entry, observed []Entity) ScanResult {
	now := d.now()
	result := ScanResult{
		ID:        uuid.NewString(),
		Timestamp: now,
	}

	seen := make(map[string]bool, len(observed))

	for i := range observed {
		obs := observed[i]
		obs.ContentHash = obs.ComputeHash()
		obs.LastSeen = now
		seen[obs.ID] = true

		prev, ok := known[obs.ID]
		if !ok {
			obs.FirstSeen = now
			known[obs.ID] = &entry{Entity: obs}
			result.Added = append(result.Added, obs)
			continue
		}

		obs.FirstSeen = prev.Entity.FirstSeen
		prevEntity := prev.Entity

		if prevEntity.ContentHash != obs.ContentHash {
			fields := FieldChanges(&prevEntity, &obs)
			result.Changed = append(result.Changed, Change{
				Old:     prevEntity,
				New:     obs,
				Fields:  fields,
				Summary: strings.Join(fields, "; "),
			})
		}

		known[obs.ID] = &entry{Entity: obs}
	}

	for id, prev := range known {
		if seen[id] {
			continue
		}
		if prev.RemovedAt == nil {
			removedAt := now
			prev.RemovedAt = &removedAt
			result.Removed = append(result.Removed, prev.Entity)
			continue
		}
		if now.Sub(*prev.RemovedAt) > d.removedGrace {
			delete(known, id)
		}
	}

	return result
}
