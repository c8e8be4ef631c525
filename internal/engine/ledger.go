package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

// ResolveIssue applies the given resolution to an unresolved issue and
// refreshes the in-memory snapshot. newLinkID overrides the issue's suggested
// goal for linked resolutions; pass "" to accept the suggestion.
//
// The entity mutation and the resolution stamp are one transaction in the
// store, so a failed mutation leaves the issue unresolved and retryable.
func (e *Engine) ResolveIssue(ctx context.Context, id string, resolution schema.Resolution, newLinkID string) error {
	if err := e.store.ResolveIssue(ctx, id, resolution, newLinkID); err != nil {
		return err
	}
	e.logger.Printf("Resolved issue %s as %s", id, resolution)
	return e.refreshIssues(ctx)
}

// DismissIssue marks an issue ignored without touching any entity.
func (e *Engine) DismissIssue(ctx context.Context, id string) error {
	return e.ResolveIssue(ctx, id, schema.ResolutionIgnored, "")
}

func (e *Engine) refreshIssues(ctx context.Context) error {
	issues, err := e.store.ListUnresolvedIssues(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh issues: %w", err)
	}
	e.mu.Lock()
	e.issues = issues
	e.mu.Unlock()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
