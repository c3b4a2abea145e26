package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"slidespeaker/internal/state"
)

// registerPurgeSteps wires the file-purge pipeline's single synthetic step.
func registerPurgeSteps(r Registry) {
	r[state.StepPurgeTaskFiles] = stepPurgeTaskFiles
}

// stepPurgeTaskFiles deletes every storage key and local path attributable
// to the target task/file. Purge is best-effort idempotent: missing objects
// are tolerated and partial failures never fail the task.
func stepPurgeTaskFiles(ctx context.Context, run *Run) error {
	keys := make(map[string]bool)
	paths := make(map[string]bool)

	if run.Artifacts != nil {
		inv, err := run.Artifacts.Collect(ctx, run.FileID, run.PurgeTargetTaskID, run.FileExt)
		if err != nil {
			slog.Warn("Failed to collect artifacts for purge", "file_id", run.FileID, "error", err)
		} else {
			for _, key := range inv.StorageKeys {
				keys[key] = true
			}
			for _, path := range inv.LocalPaths {
				paths[path] = true
			}
		}
	}
	// Keys pre-collected at enqueue time, before state/rows were removed.
	for _, key := range run.PurgeStorageKeys {
		if key != "" {
			keys[key] = true
		}
	}
	for _, path := range run.PurgeLocalPaths {
		if path != "" {
			paths[path] = true
		}
	}

	deleted := 0
	for key := range keys {
		if err := run.Storage.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete storage object", "key", key, "error", err)
			continue
		}
		deleted++
	}
	outputRoot := filepath.Clean(run.OutputDir)
	for path := range paths {
		clean := filepath.Clean(path)
		if outputRoot == "" || !strings.HasPrefix(clean, outputRoot) {
			continue
		}
		if err := os.RemoveAll(clean); err != nil {
			slog.Warn("Failed to delete local path", "path", clean, "error", err)
		}
	}
	slog.Info("Purged task files", "file_id", run.FileID, "deleted_keys", deleted)

	return run.CompleteStep(ctx, state.StepPurgeTaskFiles, nil)
}
