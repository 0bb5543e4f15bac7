// Package bundleproject owns a project's .modelops-bundle metadata
// directory: its config.yaml, its tracked-path set, its sync state, and
// the advisory lock that keeps two processes from touching them at
// once. Grounded on the teacher's own temp-file-then-rename idiom
// (registry/storage/driver/filesystem) for the metadata files
// themselves, and on localcas's unix.Flock usage for the lock file,
// adapted from localcas's blocking/polling contract to a single
// non-blocking attempt: a project open is meant to fail fast, not wait
// in line behind another bundle command.
package bundleproject

import (
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/modelops/bundle/bundleconfig"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/ociregistry"
	"github.com/modelops/bundle/syncstate"
	"github.com/modelops/bundle/tracked"
)

// MetadataDirName is the directory, rooted at a project's working
// directory, that holds config.yaml, tracked, state.json and the lock
// file.
const MetadataDirName = ".modelops-bundle"

// Project is an open project: its metadata directory's contents, plus
// the held lock that guards them until Close.
type Project struct {
	Root    string
	Config  *bundleconfig.Config
	Tracked *tracked.Set
	State   *syncstate.State

	lockFile *os.File
}

func metadataDir(root string) string { return filepath.Join(root, MetadataDirName) }
func configPath(root string) string  { return filepath.Join(metadataDir(root), "config.yaml") }
func trackedPath(root string) string { return filepath.Join(metadataDir(root), "tracked") }
func statePath(root string) string   { return filepath.Join(metadataDir(root), "state.json") }
func lockPath(root string) string    { return filepath.Join(metadataDir(root), ".lock") }

// Init creates root's metadata directory and populates it with cfg (or
// bundleconfig.Default() if cfg is nil), an empty tracked set, and
// empty sync state. It fails if the directory already exists, the same
// way git init refuses to clobber an existing repository unless asked.
func Init(root string, cfg *bundleconfig.Config) (*Project, error) {
	dir := metadataDir(root)
	if _, err := os.Stat(dir); err == nil {
		return nil, &bundleerr.ConfigurationError{Reason: dir + " already exists"}
	} else if !os.IsNotExist(err) {
		return nil, &bundleerr.IoError{Path: dir, Err: err}
	}

	if cfg == nil {
		cfg = bundleconfig.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &bundleerr.IoError{Path: dir, Err: err}
	}
	if err := cfg.Save(configPath(root)); err != nil {
		return nil, err
	}
	if err := tracked.New().Save(trackedPath(root)); err != nil {
		return nil, err
	}
	if err := syncstate.New().Save(statePath(root)); err != nil {
		return nil, err
	}

	return Open(root)
}

// Open loads an existing project rooted at root, holding its advisory
// lock for the lifetime of the returned Project. It returns
// *bundleerr.ProjectBusyError immediately if another process already
// holds the lock, rather than waiting: a long-held lock usually means a
// stuck process, and a caller blocked behind it has no way to tell the
// difference from a deadlock.
func Open(root string) (*Project, error) {
	dir := metadataDir(root)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, &bundleerr.ConfigurationError{Reason: root + " is not a bundle project (no " + MetadataDirName + ")"}
		}
		return nil, &bundleerr.IoError{Path: dir, Err: err}
	}

	lp := lockPath(root)
	lockFile, err := os.OpenFile(lp, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &bundleerr.IoError{Path: lp, Err: err}
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &bundleerr.ProjectBusyError{LockPath: lp}
		}
		return nil, &bundleerr.IoError{Path: lp, Err: err}
	}

	cfg, err := bundleconfig.Load(configPath(root))
	if err != nil {
		lockFile.Close()
		return nil, err
	}
	trackedSet, err := tracked.Load(trackedPath(root))
	if err != nil {
		lockFile.Close()
		return nil, err
	}
	state, err := syncstate.Load(statePath(root))
	if err != nil {
		lockFile.Close()
		return nil, err
	}

	return &Project{
		Root:     root,
		Config:   cfg,
		Tracked:  trackedSet,
		State:    state,
		lockFile: lockFile,
	}, nil
}

// NewRegistryClient builds the ociregistry.Client this project pushes to
// and pulls from, wired with the project's configured registry.* and
// retry.* settings. httpClient may be nil to use http.DefaultClient; it
// is the caller's responsibility the same way it is for ociregistry.New
// itself, since transport/TLS setup is out of the core library's scope.
// This is the one real caller of Config.ToRetryPolicy(): without it, the
// retry.* section of config.yaml would have no effect on anything.
func (p *Project) NewRegistryClient(httpClient *http.Client) *ociregistry.Client {
	client := ociregistry.New(p.Config.Registry.BaseURL, p.Config.Registry.Repository, httpClient)
	client.RetryPolicy = p.Config.ToRetryPolicy()
	return client
}

// SaveTracked persists p.Tracked back to its file in the metadata
// directory.
func (p *Project) SaveTracked() error {
	return p.Tracked.Save(trackedPath(p.Root))
}

// SaveState persists p.State back to its file in the metadata
// directory.
func (p *Project) SaveState() error {
	return p.State.Save(statePath(p.Root))
}

// SaveConfig persists p.Config back to its file in the metadata
// directory.
func (p *Project) SaveConfig() error {
	return p.Config.Save(configPath(p.Root))
}

// Close releases the project lock. Calling it again after the lock has
// been released is a no-op that returns nil.
func (p *Project) Close() error {
	if p.lockFile == nil {
		return nil
	}
	unix.Flock(int(p.lockFile.Fd()), unix.LOCK_UN)
	err := p.lockFile.Close()
	p.lockFile = nil
	if err != nil {
		return &bundleerr.IoError{Path: lockPath(p.Root), Err: err}
	}
	return nil
}
