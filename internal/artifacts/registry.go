// Package artifacts maps tasks and files to the storage objects and local
// paths they produced, for purge and rerun lifecycle management.
package artifacts

import (
	"context"
	"path/filepath"
	"sort"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// StateReader is the slice of the state manager the registry reads from.
type StateReader interface {
	GetStateByTask(ctx context.Context, taskID string) (*state.TaskState, error)
	GetState(ctx context.Context, fileID string) (*state.TaskState, error)
}

// Registry derives the artifact inventory of a task/file from its state.
type Registry struct {
	state     StateReader
	outputDir string
}

// NewRegistry creates an artifact registry.
func NewRegistry(stateReader StateReader, outputDir string) *Registry {
	return &Registry{state: stateReader, outputDir: outputDir}
}

// Inventory is the full set of removable objects for a task/file.
type Inventory struct {
	StorageKeys []string
	LocalPaths  []string
}

func addKey(keys map[string]bool, key string) {
	if key != "" {
		keys[key] = true
	}
}

// Collect enumerates every storage key and local path attributable to the
// task (or, when taskID is empty, the file). The upload object itself is
// included along with its legacy flat-key candidates.
func (r *Registry) Collect(ctx context.Context, fileID, taskID, fileExt string) (*Inventory, error) {
	keys := make(map[string]bool)
	paths := make(map[string]bool)

	var st *state.TaskState
	var err error
	if taskID != "" {
		st, err = r.state.GetStateByTask(ctx, taskID)
	} else {
		st, err = r.state.GetState(ctx, fileID)
	}
	if err != nil {
		return nil, err
	}

	inv := &Inventory{}
	if st != nil {
		if fileExt == "" {
			fileExt = st.FileExt
		}
		collectFromState(st, keys, paths)
	}

	if fileID != "" {
		addKey(keys, storage.UploadObjectKey(fileID, fileExt))
		for _, legacy := range append(
			storage.LegacyUploadKeys(fileID, fileExt),
			storage.LegacyVideoKeys(fileID)...) {
			addKey(keys, legacy)
		}
		for _, legacy := range append(
			storage.LegacyAudioKeys(fileID),
			storage.LegacyPodcastKeys(fileID)...) {
			addKey(keys, legacy)
		}
	}

	// Task-local scratch directory.
	baseID := storage.ResolveOutputBaseID(fileID, taskID)
	if baseID != "" && r.outputDir != "" {
		paths[filepath.Join(r.outputDir, baseID)] = true
	}

	inv.StorageKeys = sortedSet(keys)
	inv.LocalPaths = sortedSet(paths)
	return inv, nil
}

func collectFromState(st *state.TaskState, keys map[string]bool, paths map[string]bool) {
	add := func(ref state.ArtifactRef) {
		if ref.StorageKey != "" {
			keys[ref.StorageKey] = true
		} else if key := storage.ObjectKeyFromURI(ref.StorageURI); key != "" {
			keys[key] = true
		}
		if ref.LocalPath != "" {
			paths[ref.LocalPath] = true
		}
	}

	for _, category := range st.Artifacts.All() {
		for _, ref := range category {
			add(ref)
		}
	}

	for _, snap := range st.Steps {
		if snap == nil || snap.Data == nil {
			continue
		}
		data := snap.Data
		for _, a := range data.Audio {
			add(state.ArtifactRef{StorageKey: a.StorageKey, StorageURI: a.StorageURI, LocalPath: a.LocalPath})
		}
		for _, s := range data.Subtitles {
			add(state.ArtifactRef{StorageKey: s.StorageKey, StorageURI: s.StorageURI, LocalPath: s.LocalPath})
		}
		for _, img := range data.Images {
			add(state.ArtifactRef{StorageKey: img.StorageKey, StorageURI: img.StorageURI, LocalPath: img.LocalPath})
		}
		if data.Compose != nil {
			add(state.ArtifactRef{StorageKey: data.Compose.StorageKey, StorageURI: data.Compose.StorageURI, LocalPath: data.Compose.LocalPath})
		}
		if key := storage.ObjectKeyFromURI(snap.StorageURI); key != "" {
			keys[key] = true
		}
	}
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
