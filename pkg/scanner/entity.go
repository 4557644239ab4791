package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entity is one observed marketplace listing. ContentHash covers the
// salient fields; an identical hash means no observable change.
type Entity struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Status      string    `json:"status"`
	ContentHash string    `json:"content_hash"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ComputeHash returns the content hash over the salient fields.
func (e *Entity) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", e.ID, e.Title, e.Price, e.Status)))
	return hex.EncodeToString(sum[:])
}

// HasChanged reports whether two observations of the same entity differ
// in any salient field. Symmetric by construction.
func HasChanged(a, b *Entity) bool {
	return a.ComputeHash() != b.ComputeHash()
}

// FieldChanges lists which salient fields differ between two
// observations, in a stable order.
func FieldChanges(old, new *Entity) []string {
	var changes []string
	if old.Title != new.Title {
		changes = append(changes, fmt.Sprintf("title: %q -> %q", old.Title, new.Title))
	}
	if old.Price != new.Price {
		changes = append(changes, fmt.Sprintf("price: %q -> %q", old.Price, new.Price))
	}
	if old.Status != new.Status {
		changes = append(changes, fmt.Sprintf("status: %q -> %q", old.Status, new.Status))
	}
	return changes
}
