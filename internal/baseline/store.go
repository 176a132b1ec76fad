// Package baseline implements BaselineStore (C1): the kernel's singleton,
// versioned configuration of DQ weights, complexity thresholds, tier costs,
// and feedback gates. Persistence follows the teacher's atomic write-temp +
// rename idiom (internal/vault's backup-before-rotate pattern,
// internal/store/sqlite.go's idempotent migration-on-open pattern) rather
// than in-place file writes, so a crash mid-write never corrupts the
// current baseline.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kernel-route/routekernel/internal/update"
)

// Preview describes the effect of a would-be ApplyUpdate without persisting
// it, used by AutoUpdateGate.Apply in dry-run mode (`kernelctl apply
// <proposal_id> --dry-run`).
type Preview struct {
	TargetPath   string  `json:"target_path"`
	CurrentValue float64 `json:"current_value"`
	ProposedValue float64 `json:"proposed_value"`
	NextVersion  string  `json:"next_version"`
}

// Store is the interface BaselineStore exposes to the rest of the kernel,
// mirroring the teacher's store.Store interface shape (a small set of
// verb-named methods over one persistent resource).
type Store interface {
	Load(ctx context.Context) (Baselines, error)
	ApplyUpdate(ctx context.Context, u update.ProposedUpdate, dryRun bool) (Baselines, *Preview, error)
	Rollback(ctx context.Context, version string) (Baselines, error)
	Lineage(ctx context.Context) ([]LineageEntry, error)
}

// FileStore is a file-backed Store: the current baseline lives at
// <dir>/baselines.current.json, and each applied version is additionally
// snapshotted at <dir>/versions/<version>.json so Rollback can restore it
// without replaying lineage math.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	current Baselines
	loadErr error
}

// NewFileStore constructs a FileStore rooted at dir, loading the current
// baseline (or seeding Defaults() if dir is empty/unreadable). It returns
// an error only when the store directory cannot be created: a load
// failure is logged and recorded instead of returned, matching spec.md §4.1 ("an unreadable file triggers the
// fallback to hard-coded defaults plus a LOADFAIL event") where the caller,
// not the constructor, is responsible for emitting that event.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FileStore{dir: dir, logger: logger}
	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return nil, fmt.Errorf("baseline: create store dir: %w", err)
	}

	b, err := fs.readCurrent()
	if err != nil {
		logger.Warn("baselines.current unreadable, falling back to defaults",
			"error", err, "event", "LOADFAIL")
		fs.loadErr = err
		b = Defaults()
		if werr := fs.writeCurrent(b); werr != nil {
			logger.Error("failed to seed defaults after LOADFAIL", "error", werr)
		}
	}
	fs.current = b
	return fs, nil
}

func (fs *FileStore) currentPath() string { return filepath.Join(fs.dir, "baselines.current.json") }

func (fs *FileStore) versionPath(version string) string {
	return filepath.Join(fs.dir, "versions", version+".json")
}

func (fs *FileStore) readCurrent() (Baselines, error) {
	raw, err := os.ReadFile(fs.currentPath())
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Baselines{}, err
	}
	var b Baselines
	if err := json.Unmarshal(raw, &b); err != nil {
		return Baselines{}, fmt.Errorf("corrupt baselines file: %w", err)
	}
	if err := validate(b); err != nil {
		return Baselines{}, fmt.Errorf("stored baselines fail validation: %w", err)
	}
	return b, nil
}

// writeCurrent persists b atomically: write to a temp file in the same
// directory, fsync, then rename over the current file. Rename is atomic on
// POSIX filesystems, so a process crash mid-write leaves the prior file
// intact (the teacher's vault.go follows the same shape for key rotation).
func (fs *FileStore) writeCurrent(b Baselines) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(fs.currentPath(), raw); err != nil {
		return err
	}
	return atomicWrite(fs.versionPath(b.Version), raw)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// writeCurrentRetry retries writeCurrent once after a short backoff,
// matching the teacher's backoffRetry idiom (router/engine.go) at far
// smaller scale: a single filesystem retry covers transient ENOSPC/EBUSY
// conditions without masking a persistently broken store.
func (fs *FileStore) writeCurrentRetry(b Baselines) error {
	if err := fs.writeCurrent(b); err != nil {
		time.Sleep(20 * time.Millisecond)
		if err2 := fs.writeCurrent(b); err2 != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err2)
		}
	}
	return nil
}

// Load returns the current in-memory baseline. It never re-reads from disk
// on every call: the in-memory copy is the source of truth once loaded, and
// is only ever replaced by a successful ApplyUpdate or Rollback, so readers
// (complexity/dqscore/kernelrouter) always see a consistent snapshot
// without file I/O on the hot path (spec.md §5 re-entrant read-snapshot
// semantics).
func (fs *FileStore) Load(ctx context.Context) (Baselines, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.current.Clone(), nil
}

// ApplyUpdate interprets u.TargetPath against the current baseline,
// validates the result, and — unless dryRun — persists it as a new version
// with an appended lineage entry. On a validation failure the previous
// baseline remains current (spec.md §7 "Logic violations").
func (fs *FileStore) ApplyUpdate(ctx context.Context, u update.ProposedUpdate, dryRun bool) (Baselines, *Preview, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cur, err := readTargetPath(fs.current, u.TargetPath)
	if err != nil {
		return fs.current, nil, err
	}

	candidate, err := applyTargetPath(fs.current, u)
	if err != nil {
		return fs.current, nil, err
	}
	if err := validate(candidate); err != nil {
		return fs.current, nil, err
	}

	nextVersion := bumpPatch(fs.current.Version)
	preview := &Preview{
		TargetPath:    u.TargetPath,
		CurrentValue:  cur,
		ProposedValue: u.ProposedValue,
		NextVersion:   nextVersion,
	}
	if dryRun {
		return candidate, preview, nil
	}

	candidate.Version = nextVersion
	candidate.Lineage = append(candidate.Lineage, LineageEntry{
		Version:    nextVersion,
		AppliedAt:  time.Now().UTC(),
		ProposalID: u.ID,
		Rationale:  u.Rationale,
		Author:     "auto-update-gate",
	})

	if err := fs.writeCurrentRetry(candidate); err != nil {
		return fs.current, nil, err
	}
	fs.current = candidate
	fs.logger.Info("baseline applied",
		"version", candidate.Version, "target_path", u.TargetPath,
		"proposal_id", u.ID, "event", "BaselineApplied")
	return fs.current.Clone(), preview, nil
}

// Rollback restores a previously-applied version from its on-disk snapshot
// and makes it current again, recording a new lineage entry so the
// rollback itself is auditable (it does not delete history).
func (fs *FileStore) Rollback(ctx context.Context, version string) (Baselines, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := os.ReadFile(fs.versionPath(version))
	if errors.Is(err, os.ErrNotExist) {
		return fs.current, ErrVersionNotFound
	}
	if err != nil {
		return fs.current, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var restored Baselines
	if err := json.Unmarshal(raw, &restored); err != nil {
		return fs.current, fmt.Errorf("corrupt snapshot for version %s: %w", version, err)
	}
	if err := validate(restored); err != nil {
		return fs.current, err
	}

	rollbackVersion := bumpPatch(fs.current.Version)
	restored.Version = rollbackVersion
	restored.Lineage = append(append([]LineageEntry(nil), fs.current.Lineage...), LineageEntry{
		Version:   rollbackVersion,
		AppliedAt: time.Now().UTC(),
		Rationale: fmt.Sprintf("rollback to snapshot %s", version),
		Author:    "auto-update-gate",
	})

	if err := fs.writeCurrentRetry(restored); err != nil {
		return fs.current, err
	}
	fs.current = restored
	fs.logger.Warn("baseline rolled back",
		"restored_from", version, "new_version", rollbackVersion, "event", "BaselineRolledBack")
	return fs.current.Clone(), nil
}

// Lineage returns the current baseline's append-only version history.
func (fs *FileStore) Lineage(ctx context.Context) ([]LineageEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return append([]LineageEntry(nil), fs.current.Lineage...), nil
}

// NewProposedUpdate is a small helper used by PatternDetector to build a
// ProposedUpdate against the current baseline, stamping CurrentValue and
// ParentBaselineVersion from the live store so AutoUpdateGate can detect a
// stale proposal (current baseline has moved on since the proposal was
// generated) before applying it.
func NewProposedUpdate(ctx context.Context, s Store, targetPath string, proposed float64, rationale string, sampleSize int, confidence float64, typ update.Type) (update.ProposedUpdate, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return update.ProposedUpdate{}, err
	}
	cur, err := readTargetPath(b, targetPath)
	if err != nil {
		return update.ProposedUpdate{}, err
	}
	return update.ProposedUpdate{
		ID:                    uuid.NewString(),
		Type:                  typ,
		TargetPath:            targetPath,
		CurrentValue:          cur,
		ProposedValue:         proposed,
		Rationale:             rationale,
		SampleSize:            sampleSize,
		Confidence:            confidence,
		Status:                update.Proposed,
		ParentBaselineVersion: b.Version,
		CreatedAt:             time.Now().UTC(),
	}, nil
}
