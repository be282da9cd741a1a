// Package store persists pipeline snapshots between stages so fetch, curate,
// and load can run as separate commands against a local database.
package store

import (
	"context"

	"github.com/alkfred/alkfred/internal/civic"
)

// Store defines the persistence interface for pipeline snapshots.
type Store interface {
	// Raw evidence fetched from upstream.
	SaveEvidence(ctx context.Context, records []civic.Evidence) (int, error)
	LoadEvidence(ctx context.Context) ([]civic.Evidence, error)

	// Curated rules keyed by (disease, profile).
	SaveRules(ctx context.Context, rules map[string]*civic.Rule) (int, error)
	LoadRules(ctx context.Context) (map[string]*civic.Rule, error)

	// Projected mutation records keyed by variant label.
	SaveMutations(ctx context.Context, mutations map[string]*civic.Mutation) (int, error)
	LoadMutations(ctx context.Context) (map[string]*civic.Mutation, error)

	// Profile component cache, keyed by raw profile name.
	GetComponents(ctx context.Context, profileName string) ([]civic.Component, bool, error)
	SetComponents(ctx context.Context, profileName string, comps []civic.Component) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
