package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/telemetry"
)

type stubScan struct {
	report *services.OrphanReport
	err    error
	calls  atomic.Int32
}

func (s *stubScan) Scan(context.Context) (*services.OrphanReport, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func TestOrphanScanner_RunOnceSetsGauges(t *testing.T) {
	scan := &stubScan{report: &services.OrphanReport{
		UnreferencedNamespaces: []string{"org_Ghost", "org_Spare"},
		MissingNamespaces:      []string{"Hollow"},
	}}
	NewOrphanScanner(scan, time.Minute).RunOnce(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(telemetry.OrphanedNamespaces.WithLabelValues("unreferenced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(telemetry.OrphanedNamespaces.WithLabelValues("missing")))

	scan.report = &services.OrphanReport{}
	NewOrphanScanner(scan, time.Minute).RunOnce(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(telemetry.OrphanedNamespaces.WithLabelValues("unreferenced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(telemetry.OrphanedNamespaces.WithLabelValues("missing")))
}

func TestOrphanScanner_FailedScanKeepsGauges(t *testing.T) {
	telemetry.OrphanedNamespaces.WithLabelValues("missing").Set(3)
	scan := &stubScan{err: errors.New("registry down")}

	NewOrphanScanner(scan, time.Minute).RunOnce(context.Background())

	assert.Equal(t, 3.0, testutil.ToFloat64(telemetry.OrphanedNamespaces.WithLabelValues("missing")))
}

func TestOrphanScanner_StartScansImmediatelyAndStops(t *testing.T) {
	scan := &stubScan{report: &services.OrphanReport{}}
	s := NewOrphanScanner(scan, time.Hour)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return scan.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestOrphanScanner_StartHonoursContext(t *testing.T) {
	scan := &stubScan{report: &services.OrphanReport{}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewOrphanScanner(scan, 10*time.Millisecond).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return scan.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNewOrphanScanner_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Hour, NewOrphanScanner(&stubScan{}, 0).interval)
}
