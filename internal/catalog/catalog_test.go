package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/savesync/internal/remote"
	"github.com/schaermu/savesync/internal/snapshot"
	"github.com/schaermu/savesync/internal/testutil"
)

const root = testutil.SaveRoot

func newBuilder() *Builder {
	return NewBuilder(root, testutil.Logger())
}

func TestMatches(t *testing.T) {
	tests := []struct {
		game   string
		filter string
		want   bool
	}{
		{game: "The Legend of Zelda", filter: "", want: true},
		{game: "The Legend of Zelda", filter: "zelda", want: true},
		{game: "The Legend of Zelda", filter: "ZELDA", want: true},
		{game: "Super Mario 3D Land", filter: "zelda", want: false},
		{game: "0x00055D00 Pokemon X", filter: "pokemon x", want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.game, tt.filter), "Matches(%q, %q)", tt.game, tt.filter)
	}
}

func TestBuild_SelectsNewestValidSnapshot(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("Zelda", "20240101-100000", "main"):    "old",
		testutil.Save("Zelda", "20240301-100000", "main"):    "new",
		testutil.Save("Zelda", "99999999-999999", "main"):    "bogus date",
		testutil.Save("Zelda", "latest", "main"):             "not a snapshot",
		root + "/Zelda/20250101-000000":                      "a file, not a folder",
		testutil.Save("Mario", "20240505-120000", "main"):    "mario",
		testutil.Save("Mario", "20240505-120000", "extdata"): "mario ext",
	})

	res, err := newBuilder().Build(context.Background(), r, "")
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	zelda := res.Entries["Zelda"]
	assert.Equal(t, snapshot.ID("20240301-100000"), zelda.Newest)
	assert.Equal(t, root+"/Zelda/20240301-100000", zelda.Path)
	assert.Equal(t, 2, zelda.Snapshots)
	assert.Equal(t, snapshot.ID("20240505-120000"), res.Entries["Mario"].Newest)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.Warnings)
}

func TestBuild_GameWithoutSnapshotsIsSkipped(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		root + "/Pokemon/notes/readme.txt":                "x",
		root + "/Pokemon/save.bak":                        "x",
		testutil.Save("Mario", "20240505-120000", "main"): "mario",
	})

	res, err := newBuilder().Build(context.Background(), r, "")
	require.NoError(t, err)

	assert.NotContains(t, res.Entries, "Pokemon")
	assert.Equal(t, []string{"Pokemon"}, res.Skipped)
	assert.Empty(t, res.Warnings, "a game without snapshots is not an error")
}

func TestBuild_Filter(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("The Legend of Zelda", "20240101-100000", "main"): "z",
		testutil.Save("Mario Kart 7", "20240101-100000", "main"):        "m",
	})

	res, err := newBuilder().Build(context.Background(), r, "ZELDA")
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Contains(t, res.Entries, "The Legend of Zelda")
}

func TestBuild_IgnoresFilesAtRoot(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		root + "/.DS_Store":                               "junk",
		testutil.Save("Mario", "20240505-120000", "main"): "mario",
	})

	res, err := newBuilder().Build(context.Background(), r, "")
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
}

func TestBuild_MissingRootIsEmptyWithWarning(t *testing.T) {
	r := testutil.NewReplica(t, "a", nil)

	res, err := newBuilder().Build(context.Background(), r, "")
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, root, res.Warnings[0].Path)
	assert.Contains(t, res.Warnings[0].String(), "a:")
}

func TestBuild_UnreadableGameIsSkippedWithWarning(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("Zelda", "20240101-100000", "main"): "z",
		testutil.Save("Mario", "20240505-120000", "main"): "m",
	})
	fc := testutil.Faulty(r)
	fc.ListErr[root+"/Zelda"] = testutil.Unavailable("list", root+"/Zelda")

	res, err := newBuilder().Build(context.Background(), r, "")
	require.NoError(t, err)
	assert.NotContains(t, res.Entries, "Zelda")
	assert.Contains(t, res.Entries, "Mario")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Zelda", res.Warnings[0].Game)
}

func TestBuild_TransportFailurePropagates(t *testing.T) {
	r := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("Zelda", "20240101-100000", "main"): "z",
	})
	fc := testutil.Faulty(r)
	broken := errors.New("connection reset by peer")
	fc.ListErr[root+"/Zelda"] = broken

	_, err := newBuilder().Build(context.Background(), r, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
	assert.False(t, remote.IsUnavailable(err))
}

func TestBuildAll(t *testing.T) {
	a := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("Zelda", "20240101-100000", "main"):   "z",
		testutil.Save("Pokemon", "20240601-090000", "main"): "p",
	})
	b := testutil.NewReplica(t, "b", map[string]string{
		testutil.Save("Pokemon", "20240602-090000", "main"): "p2",
	})
	c := testutil.NewReplica(t, "c", nil)

	cat, results, err := newBuilder().BuildAll(context.Background(), []*remote.Replica{a, b, c}, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Replica)
	assert.Len(t, results[2].Warnings, 1)

	assert.Equal(t, []string{"Pokemon", "Zelda"}, cat.Games())
	e, ok := cat.Lookup("b", "Pokemon")
	require.True(t, ok)
	assert.Equal(t, snapshot.ID("20240602-090000"), e.Newest)
	_, ok = cat.Lookup("b", "Zelda")
	assert.False(t, ok)
	assert.Empty(t, cat["c"])
}

func TestBuildAll_TransportFailureIsFatal(t *testing.T) {
	a := testutil.NewReplica(t, "a", map[string]string{
		testutil.Save("Zelda", "20240101-100000", "main"): "z",
	})
	b := testutil.NewReplica(t, "b", map[string]string{
		testutil.Save("Mario", "20240101-100000", "main"): "m",
	})
	testutil.Faulty(b).ListErr[root] = errors.New("EOF")

	_, _, err := newBuilder().BuildAll(context.Background(), []*remote.Replica{a, b}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Replica b (b)")
}
