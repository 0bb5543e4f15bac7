// Package syncstate persists the record of the last successful push and
// pull: the base against which DiffEngine computes its three-way diff.
package syncstate

import (
	"encoding/json"
	"os"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/atomicfile"
)

// State is the persisted record of the last sync. Never read by the
// user directly, only by DiffEngine.
type State struct {
	LastPushDigest   bundle.Digest              `json:"last_push_digest,omitempty"`
	LastPullDigest   bundle.Digest              `json:"last_pull_digest,omitempty"`
	LastSyncedFiles  map[bundle.Path]bundle.Digest `json:"last_synced_files"`
}

// New returns an empty State, the value a freshly initialized project
// has before its first push or pull.
func New() *State {
	return &State{LastSyncedFiles: make(map[bundle.Path]bundle.Digest)}
}

// Load reads State from path. A missing file yields an empty State, the
// expected condition for a project that has never synced.
func Load(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, &bundleerr.IoError{Path: path, Err: err}
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, &bundleerr.InvalidInputError{Reason: "malformed sync state at " + path + ": " + err.Error()}
	}
	if s.LastSyncedFiles == nil {
		s.LastSyncedFiles = make(map[bundle.Path]bundle.Digest)
	}
	return &s, nil
}

// Save persists s atomically via the project's usual temp-file-then-
// rename sequence.
func (s *State) Save(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path, b)
}

// RecordPush updates the state after a successful push: the new
// manifest digest and the file set that now exists on the server.
func (s *State) RecordPush(manifestDigest bundle.Digest, files map[bundle.Path]bundle.Digest) {
	s.LastPushDigest = manifestDigest
	s.LastSyncedFiles = files
}

// RecordPull updates the state after a successful pull.
func (s *State) RecordPull(remoteDigest bundle.Digest, files map[bundle.Path]bundle.Digest) {
	s.LastPullDigest = remoteDigest
	s.LastSyncedFiles = files
}
