package bundle

// FileState classifies one path's status in a three-way diff between the
// local working tree, the remote index, and the last synced state.
type FileState string

const (
	Unchanged      FileState = "UNCHANGED"
	AddedLocal     FileState = "ADDED_LOCAL"
	DeletedLocal   FileState = "DELETED_LOCAL"
	ModifiedLocal  FileState = "MODIFIED_LOCAL"
	AddedRemote    FileState = "ADDED_REMOTE"
	DeletedRemote  FileState = "DELETED_REMOTE"
	ModifiedRemote FileState = "MODIFIED_REMOTE"
	Conflict       FileState = "CONFLICT"
	Untracked      FileState = "UNTRACKED"
)

// SyncStatus names the bundle-level sync states. Only the values are
// defined here; no function in this module derives one from a diff.
type SyncStatus string

const (
	StatusClean    SyncStatus = "CLEAN"
	StatusLocal    SyncStatus = "LOCAL_CHANGES"
	StatusBehind   SyncStatus = "BEHIND"
	StatusAhead    SyncStatus = "AHEAD"
	StatusDiverged SyncStatus = "DIVERGED"
	StatusUnknown  SyncStatus = "UNKNOWN"
)

// DiffEntry is one path's classification, carrying whichever digests
// were present on each side for diagnostics and plan construction.
type DiffEntry struct {
	Path          Path
	State         FileState
	LocalDigest   Digest // empty if absent
	RemoteDigest  Digest // empty if absent
	SyncedDigest  Digest // empty if absent
}
