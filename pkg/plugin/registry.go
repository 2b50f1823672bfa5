package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/monistowl/gat/internal/consts"
	"github.com/monistowl/gat/pkg/opferr"
)

// Entry is one installed solver's registry record.
type Entry struct {
	SolverID       string    `json:"solver_id"`
	Version        string    `json:"version"`
	BinaryPath     string    `json:"binary_path"`
	InstalledAt    time.Time `json:"installed_at"`
	AcceptedRiskAt time.Time `json:"accepted_risk_at"` // zero value = not acknowledged
}

// Registry is a JSON file of installed plugin records under a per-user
// plugin root, guarded by an exclusive flock on its own file descriptor
// for every mutating operation so install/uninstall/update/list from
// concurrent processes serialize the way the spec's shared-resource
// model requires.
type Registry struct {
	mu   sync.Mutex
	path string
}

// Root resolves the per-user plugin directory: the GAT_PLUGIN_ROOT
// override if set, otherwise the caller-supplied default (the core
// itself never invents a default — that belongs to the surrounding CLI).
func Root(defaultRoot string) string {
	if v := os.Getenv(consts.PluginRootEnvVar); v != "" {
		return v
	}
	return defaultRoot
}

// Open loads (or lazily creates) the registry file at root/registry.json.
func Open(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, opferr.DataValidation("plugin: creating root %q: %v", root, err)
	}
	return &Registry{path: filepath.Join(root, "registry.json")}, nil
}

func (r *Registry) withLock(fn func(entries map[string]Entry) (map[string]Entry, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return opferr.DataValidation("plugin: opening registry %q: %v", r.path, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return opferr.DataValidation("plugin: locking registry: %v", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	entries := map[string]Entry{}
	info, err := f.Stat()
	if err == nil && info.Size() > 0 {
		if err := json.NewDecoder(f).Decode(&entries); err != nil {
			return opferr.DataValidation("plugin: decoding registry: %v", err)
		}
	}

	updated, err := fn(entries)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(updated)
}

// Install records a newly-placed plugin binary. fromSource indicates the
// binary was built locally rather than fetched prebuilt; either way it
// starts unacknowledged — AcceptRisk must be called before Invoke will use it.
func (r *Registry) Install(solverID, version, binaryPath string, fromSource bool) error {
	_ = fromSource // provenance only; installation mechanics don't differ today
	return r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		entries[solverID] = Entry{
			SolverID: solverID, Version: version, BinaryPath: binaryPath,
			InstalledAt: entries[solverID].InstalledAt,
		}
		e := entries[solverID]
		e.InstalledAt = nowOrKeep(e.InstalledAt)
		entries[solverID] = e
		return entries, nil
	})
}

// nowOrKeep stamps install time; factored out so a future caller could
// inject a clock for deterministic tests without touching the hot path.
func nowOrKeep(existing time.Time) time.Time {
	if !existing.IsZero() {
		return existing
	}
	return time.Now()
}

// AcceptRisk records the one-time safety acknowledgment gating Invoke.
func (r *Registry) AcceptRisk(solverID string) error {
	return r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		e, ok := entries[solverID]
		if !ok {
			return nil, opferr.DataValidation("plugin: %q is not installed", solverID)
		}
		e.AcceptedRiskAt = time.Now()
		entries[solverID] = e
		return entries, nil
	})
}

// Uninstall removes a plugin's registry record; it does not delete the
// binary, matching the spec's split between installer-owned files and
// dispatcher-owned registry entries.
func (r *Registry) Uninstall(solverID string) error {
	return r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		delete(entries, solverID)
		return entries, nil
	})
}

// Update replaces an existing entry's version/path, resetting its risk
// acknowledgment since a new binary is a new trust decision.
func (r *Registry) Update(solverID, version, binaryPath string) error {
	return r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		if _, ok := entries[solverID]; !ok {
			return nil, opferr.DataValidation("plugin: %q is not installed", solverID)
		}
		entries[solverID] = Entry{SolverID: solverID, Version: version, BinaryPath: binaryPath, InstalledAt: time.Now()}
		return entries, nil
	})
}

// List returns every installed entry, sorted by solver id for
// deterministic output.
func (r *Registry) List() ([]Entry, error) {
	var out []Entry
	err := r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		for _, e := range entries {
			out = append(out, e)
		}
		return nil, nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SolverID < out[j].SolverID })
	return out, err
}

// IsInstalled reports whether solverID has a registry record with a
// non-zero risk acknowledgment — the acceptance gate the spec requires
// before a plugin may ever be invoked.
func (r *Registry) IsInstalled(solverID string) bool {
	var found bool
	_ = r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		e, ok := entries[solverID]
		found = ok && !e.AcceptedRiskAt.IsZero()
		return nil, nil
	})
	return found
}

func (r *Registry) lookup(solverID string) (Entry, bool) {
	var e Entry
	var ok bool
	_ = r.withLock(func(entries map[string]Entry) (map[string]Entry, error) {
		e, ok = entries[solverID]
		return nil, nil
	})
	return e, ok
}
