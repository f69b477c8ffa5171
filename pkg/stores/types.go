package stores

import (
	"context"
	"time"
)

// Render is one successful top render.
type Render struct {
	ID            string        `json:"id"`
	Environment   string        `json:"environment"`
	Namespace     string        `json:"namespace"`
	Digest        string        `json:"digest"` // SHA256 of the YAML rendering
	FragmentCount int           `json:"fragment_count"`
	EntryCount    int           `json:"entry_count"`
	Sources       []string      `json:"sources"` // base top file and fragments, merge order
	Duration      time.Duration `json:"duration"`
	RenderedAt    time.Time     `json:"rendered_at"`
}

// Event is an append-only record of a published telemetry event.
type Event struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	Level       string    `json:"level"`
	Environment string    `json:"environment,omitempty"`
	Namespace   string    `json:"namespace,omitempty"`
	Message     string    `json:"message"`
	Details     *string   `json:"details,omitempty"` // JSON blob
	Timestamp   time.Time `json:"timestamp"`
}

// RenderFilter narrows ListRenders. Empty fields match everything.
type RenderFilter struct {
	Environment string
	Namespace   string
	Limit       int
	Offset      int
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Environment string
	Type        string
	Level       string
	Limit       int
	Offset      int
}

// Store defines the interface for the render history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Render operations
	RecordRender(ctx context.Context, render *Render) error
	GetRender(ctx context.Context, id string) (*Render, error)
	LatestRender(ctx context.Context, env, namespace string) (*Render, error)
	ListRenders(ctx context.Context, filter RenderFilter) ([]*Render, error)
	PruneRenders(ctx context.Context, env, namespace string, keep int) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
