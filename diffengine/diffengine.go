// Package diffengine computes the three-way diff between a local
// snapshot, a remote index, and the last-synced state, classifying each
// path into the FileState lifecycle per spec.md's decision table.
package diffengine

import (
	"github.com/modelops/bundle/bundle"
)

// Diff classifies every path present in any of local, remote, or synced
// into a bundle.DiffEntry.
func Diff(local, remote, synced map[bundle.Path]bundle.Digest) map[bundle.Path]bundle.DiffEntry {
	paths := make(map[bundle.Path]struct{})
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}
	for p := range synced {
		paths[p] = struct{}{}
	}

	out := make(map[bundle.Path]bundle.DiffEntry, len(paths))
	for p := range paths {
		l, hasL := local[p]
		r, hasR := remote[p]
		s, hasS := synced[p]

		out[p] = bundle.DiffEntry{
			Path:         p,
			State:        classify(hasL, hasR, hasS, l, r, s),
			LocalDigest:  l,
			RemoteDigest: r,
			SyncedDigest: s,
		}
	}
	return out
}

// classify implements spec.md §4.10's truth table exactly.
func classify(hasL, hasR, hasS bool, l, r, s bundle.Digest) bundle.FileState {
	switch {
	case hasL && hasR && hasS:
		lEqR := l == r
		lEqS := l == s
		rEqS := r == s
		switch {
		case lEqR:
			return bundle.Unchanged
		case !lEqR && rEqS: // differs from remote, remote==synced -> local moved
			return bundle.ModifiedLocal
		case !lEqR && lEqS: // local unchanged since sync, remote moved
			return bundle.ModifiedRemote
		default:
			return bundle.Conflict
		}

	case hasL && hasR && !hasS:
		if l == r {
			return bundle.Unchanged // ADDED_BOTH_SAME
		}
		return bundle.Conflict

	case hasL && !hasR && hasS:
		if l == s {
			return bundle.DeletedRemote
		}
		return bundle.Conflict

	case hasL && !hasR && !hasS:
		return bundle.AddedLocal

	case !hasL && hasR && hasS:
		if r == s {
			return bundle.DeletedLocal
		}
		return bundle.Conflict

	case !hasL && hasR && !hasS:
		return bundle.AddedRemote

	case !hasL && !hasR && hasS:
		return bundle.Unchanged // DELETED_BOTH

	default:
		return bundle.Unchanged
	}
}
