package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentItem is the raw corpus entry the featurizer turns into a
// ContentVector. Popularity is a normalized interaction-volume score
// maintained by the interaction log.
type ContentItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title" validate:"required,min=1,max=255"`
	Categories  []string  `json:"categories,omitempty" db:"categories"`
	Tags        []string  `json:"tags,omitempty" db:"tags"`
	Popularity  float64   `json:"popularity" db:"popularity"`
	Active      bool      `json:"active" db:"active"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ContentVector is the fixed-length numeric representation of one content
// item under a specific model version.
type ContentVector struct {
	ItemID     uuid.UUID `json:"item_id" db:"item_id"`
	Vector     []float64 `json:"-" db:"vector"`
	Version    int64     `json:"version" db:"version"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}

// Cluster is one partition of the content corpus. Read-only during serving;
// rebuilt wholesale by training runs.
type Cluster struct {
	ID       int         `json:"id"`
	Centroid []float64   `json:"-"`
	Members  []uuid.UUID `json:"members"`
}

// Size returns the member count.
func (c *Cluster) Size() int {
	return len(c.Members)
}

// ContentEvent is a content-creation/update notification consumed from the
// message bus. It marks the item stale and triggers cache invalidation.
type ContentEvent struct {
	ItemID    uuid.UUID    `json:"item_id"`
	Item      *ContentItem `json:"item,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
