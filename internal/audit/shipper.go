// Package audit ships records of mutating API requests to one or more sinks.
// The application log is always a sink; a rotating JSON-lines file can be
// added through configuration.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/orgstore/orgstore/internal/config"
)

// Entry is a single audit record
type Entry struct {
	Timestamp          time.Time `json:"timestamp"`
	Action             string    `json:"action"`
	StatusCode         int       `json:"status_code"`
	Success            bool      `json:"success"`
	IPAddress          string    `json:"ip_address,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
	ActorOrganization  string    `json:"actor_organization,omitempty"`
	ActorAdminID       string    `json:"actor_admin_id,omitempty"`
	TargetOrganization string    `json:"target_organization,omitempty"`
}

// Shipper delivers audit entries to a sink
type Shipper interface {
	Ship(ctx context.Context, entry *Entry) error
	Close() error
}

// NewShipper builds the configured set of sinks. The slog sink is always
// present; the file sink is added when cfg.File.Path is set.
func NewShipper(cfg *config.AuditConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: []Shipper{NewSlogShipper()}}
	if cfg == nil || cfg.File.Path == "" {
		return ms, nil
	}
	fs, err := NewFileShipper(&cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create file shipper: %w", err)
	}
	ms.shippers = append(ms.shippers, fs)
	return ms, nil
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

// MultiShipper fans an entry out to every sink
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper wraps the given sinks
func NewMultiShipper(shippers ...Shipper) *MultiShipper {
	return &MultiShipper{shippers: shippers}
}

// Ship sends the entry to every sink. A failing sink does not stop the
// others; all failures are joined into the returned error.
func (ms *MultiShipper) Ship(ctx context.Context, entry *Entry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// SlogShipper
// ---------------------------------------------------------------------------

// SlogShipper writes entries as "audit" records to the default slog logger
type SlogShipper struct{}

// NewSlogShipper creates a new slog shipper
func NewSlogShipper() *SlogShipper { return &SlogShipper{} }

// Ship logs the entry
func (SlogShipper) Ship(ctx context.Context, entry *Entry) error {
	attrs := []slog.Attr{
		slog.String("action", entry.Action),
		slog.Int("status_code", entry.StatusCode),
		slog.Bool("success", entry.Success),
		slog.String("ip", entry.IPAddress),
		slog.Time("at", entry.Timestamp),
	}
	if entry.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", entry.RequestID))
	}
	if entry.ActorOrganization != "" {
		attrs = append(attrs,
			slog.String("actor_organization", entry.ActorOrganization),
			slog.String("actor_admin_id", entry.ActorAdminID),
		)
	}
	if entry.TargetOrganization != "" {
		attrs = append(attrs, slog.String("target_organization", entry.TargetOrganization))
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// Close is a no-op
func (SlogShipper) Close() error { return nil }

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

// FileShipper appends entries as JSON lines and rotates the file by size
type FileShipper struct {
	cfg  *config.AuditFileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the audit file
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes the entry, rotating first when the file exceeds MaxSizeMB
func (fs *FileShipper) Ship(ctx context.Context, entry *Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return fmt.Errorf("audit log file is closed")
	}

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() >= int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.WarnContext(ctx, "failed to rotate audit log", "path", fs.cfg.Path, "error", err)
			}
		}
		if fs.file == nil {
			return fmt.Errorf("audit log file could not be reopened after rotation")
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and drops
// anything beyond MaxBackups.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	if fs.cfg.MaxBackups > 0 {
		_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	} else {
		_ = os.Remove(fs.cfg.Path)
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fs.file = nil
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
