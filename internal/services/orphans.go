package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/storage"
)

// OrphanReport lists registry/namespace inconsistencies left by interrupted
// operations.
type OrphanReport struct {
	// UnreferencedNamespaces exist in the store but no registry row names them.
	UnreferencedNamespaces []string `json:"unreferenced_namespaces"`
	// MissingNamespaces are organizations whose namespace is not materialized.
	MissingNamespaces []string `json:"missing_namespaces"`
}

// Empty reports whether nothing needs attention.
func (r *OrphanReport) Empty() bool {
	return len(r.UnreferencedNamespaces) == 0 && len(r.MissingNamespaces) == 0
}

// Reconciler finds (and on request drops) orphaned namespaces. It never
// touches registry rows.
type Reconciler struct {
	registry Registry
	store    storage.NamespaceStore
	locker   lock.Locker
}

// NewReconciler creates a new reconciler
func NewReconciler(registry Registry, store storage.NamespaceStore, locker lock.Locker) *Reconciler {
	return &Reconciler{registry: registry, store: store, locker: locker}
}

// Scan compares the registry with the namespaces present in the store.
func (r *Reconciler) Scan(ctx context.Context) (*OrphanReport, error) {
	orgs, err := r.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	namespaces, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	report := &OrphanReport{UnreferencedNamespaces: []string{}, MissingNamespaces: []string{}}
	referenced := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		referenced[models.NamespaceName(org.Name)] = true
		_, err := r.store.Get(ctx, org.Name)
		switch {
		case errors.Is(err, storage.ErrNamespaceNotFound):
			report.MissingNamespaces = append(report.MissingNamespaces, org.Name)
		case err != nil:
			return nil, fmt.Errorf("failed to inspect namespace for %s: %w", org.Name, err)
		}
	}
	for _, ns := range namespaces {
		if !referenced[ns] {
			report.UnreferencedNamespaces = append(report.UnreferencedNamespaces, ns)
		}
	}
	return report, nil
}

// DropUnreferenced drops each namespace that is still unreferenced once its
// organization lock is held. Locked names are skipped. It returns the
// namespaces actually dropped.
func (r *Reconciler) DropUnreferenced(ctx context.Context, namespaces []string) ([]string, error) {
	dropped := []string{}
	for _, ns := range namespaces {
		name := strings.TrimPrefix(ns, models.NamespacePrefix)
		release, err := r.locker.TryLock(ctx, name)
		if errors.Is(err, lock.ErrLocked) {
			slog.WarnContext(ctx, "skipping locked namespace", "namespace", ns)
			continue
		}
		if err != nil {
			return dropped, fmt.Errorf("failed to lock %s: %w", name, err)
		}

		// A case variant in the registry may own this namespace on
		// case-insensitive backends.
		org, err := r.registry.FindConflictingName(ctx, name, "")
		if err != nil {
			release()
			return dropped, fmt.Errorf("failed to look up organization %s: %w", name, err)
		}
		if org != nil {
			release()
			continue
		}
		if err := r.store.Drop(ctx, name); err != nil {
			release()
			return dropped, fmt.Errorf("failed to drop namespace %s: %w", ns, err)
		}
		release()
		slog.InfoContext(ctx, "dropped orphaned namespace", "namespace", ns)
		dropped = append(dropped, ns)
	}
	return dropped, nil
}
