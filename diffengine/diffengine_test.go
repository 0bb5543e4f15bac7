package diffengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
)

const (
	dA bundle.Digest = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	dB bundle.Digest = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestClassifyAllRows(t *testing.T) {
	p := bundle.Path("x")

	cases := []struct {
		name           string
		local, remote, synced map[bundle.Path]bundle.Digest
		want           bundle.FileState
	}{
		{"unchanged", m(p, dA), m(p, dA), m(p, dA), bundle.Unchanged},
		{"modified_local", m(p, dA), m(p, dB), m(p, dB), bundle.ModifiedLocal},
		{"modified_remote", m(p, dA), m(p, dB), m(p, dA), bundle.ModifiedRemote},
		{"conflict_all_three_differ", m(p, dA), m(p, dB), m(p, "sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"), bundle.Conflict},
		{"added_both_same", m(p, dA), m(p, dA), nil, bundle.Unchanged},
		{"conflict_added_both_diff", m(p, dA), m(p, dB), nil, bundle.Conflict},
		{"deleted_remote", m(p, dA), nil, m(p, dA), bundle.DeletedRemote},
		{"conflict_local_changed_remote_deleted", m(p, dA), nil, m(p, dB), bundle.Conflict},
		{"added_local", m(p, dA), nil, nil, bundle.AddedLocal},
		{"deleted_local", nil, m(p, dA), m(p, dA), bundle.DeletedLocal},
		{"conflict_remote_modified_after_local_delete", nil, m(p, dA), m(p, dB), bundle.Conflict},
		{"added_remote", nil, m(p, dA), nil, bundle.AddedRemote},
		{"deleted_both", nil, nil, m(p, dA), bundle.Unchanged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Diff(tc.local, tc.remote, tc.synced)
			require.Equal(t, tc.want, result[p].State, tc.name)
		})
	}
}

func m(p bundle.Path, d bundle.Digest) map[bundle.Path]bundle.Digest {
	return map[bundle.Path]bundle.Digest{p: d}
}
