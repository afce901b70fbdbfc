package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

type tablesReceiver interface {
	ReloadTables(tables domain.Tables)
}

// IndexReloader rebuilds the sparse index and republishes the curated
// tables. A failed step keeps the previous state of that step.
type IndexReloader struct {
	index  ports.IndexRebuilder
	tables ports.TablesLoader
	target tablesReceiver
	record func(error)

	mu sync.Mutex
}

// NewIndexReloader wires the reload steps. Any of index, tables and record
// may be nil.
func NewIndexReloader(index ports.IndexRebuilder, tables ports.TablesLoader, target tablesReceiver, record func(error)) *IndexReloader {
	return &IndexReloader{index: index, tables: tables, target: target, record: record}
}

func (r *IndexReloader) Reload(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	var errs []error
	if r.index != nil {
		if err := r.index.Rebuild(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.tables != nil && r.target != nil {
		tables, err := r.tables.Load(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			r.target.ReloadTables(tables)
		}
	}

	err := errors.Join(errs...)
	if r.record != nil {
		r.record(err)
	}
	if err != nil {
		slog.Error("index_reload_failed", "reason", reason, "error", err)
		return err
	}
	slog.Info("index_reloaded", "reason", reason, "duration_ms", time.Since(started).Milliseconds())
	return nil
}
