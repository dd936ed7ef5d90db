// Package statusfile writes atomic JSON snapshots of the health info on
// every cycle (spec.md §6 "Status files, when configured, are written
// atomically as JSON snapshots of the health info on every cycle").
// Not shown in the teacher repo; temp-file-then-rename is the standard
// Go idiom for atomic file replacement.
package statusfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentfabric/rrsc/internal/health"
)

// Writer persists health.Info snapshots to path atomically.
type Writer struct {
	path string
}

// New builds a Writer. path is the destination status file.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Write renders info as JSON and replaces path via a temp-file-then-rename
// so readers never observe a partially written file.
func (w *Writer) Write(info health.Info) error {
	data, err := json.MarshalIndent(statusPayload{
		Status: info.OverallStatus.String(),
		Ready:  info.Ready,
		Uptime: info.Uptime.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("statusfile: marshal: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("statusfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("statusfile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statusfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("statusfile: rename: %w", err)
	}
	return nil
}

type statusPayload struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Uptime string `json:"uptime"`
}

// Run subscribes to the aggregator and writes a snapshot on every
// check cycle (spec.md §6: status files are "written atomically as
// JSON snapshots of the health info on every cycle") until ctx is
// cancelled.
func Run(ctx context.Context, w *Writer, agg *health.Aggregator) {
	sub := agg.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-sub:
			if !ok {
				return
			}
			_ = w.Write(info)
		}
	}
}
