// Package jobs holds long-running background work started by cmd/server.
//
// orphan_scanner.go implements OrphanScanner, which periodically compares the
// registry with the namespace store and publishes the result as the
// orgstore_orphaned_namespaces gauge. It only reports; dropping unreferenced
// namespaces is left to `orgctl orphans --drop-orphans`.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// OrphanScan is satisfied by *services.Reconciler.
type OrphanScan interface {
	Scan(ctx context.Context) (*services.OrphanReport, error)
}

// OrphanScanner runs OrphanScan on a fixed interval.
type OrphanScanner struct {
	scanner  OrphanScan
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewOrphanScanner creates a new OrphanScanner. A non-positive interval
// defaults to one hour.
func NewOrphanScanner(scanner OrphanScan, interval time.Duration) *OrphanScanner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &OrphanScanner{
		scanner:  scanner,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs a scan immediately and then on every tick until ctx is cancelled
// or Stop is called. It blocks; run it in its own goroutine.
func (s *OrphanScanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("orphan scanner started", "interval", s.interval)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			slog.Info("orphan scanner stopped")
			return
		case <-ctx.Done():
			slog.Info("orphan scanner context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (s *OrphanScanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce performs a single scan and updates the gauge. A failed scan leaves
// the previous gauge values in place.
func (s *OrphanScanner) RunOnce(ctx context.Context) {
	report, err := s.scanner.Scan(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "orphan scan failed", "error", err)
		return
	}

	telemetry.OrphanedNamespaces.WithLabelValues("unreferenced").Set(float64(len(report.UnreferencedNamespaces)))
	telemetry.OrphanedNamespaces.WithLabelValues("missing").Set(float64(len(report.MissingNamespaces)))

	if report.Empty() {
		slog.DebugContext(ctx, "orphan scan found nothing")
		return
	}
	slog.WarnContext(ctx, "orphan scan found inconsistencies",
		"unreferenced_namespaces", report.UnreferencedNamespaces,
		"missing_namespaces", report.MissingNamespaces,
	)
}
