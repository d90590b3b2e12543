package fsutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanRelPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{".", ""},
		{"/", ""},
		{"a/b", "a/b"},
		{"/a/b", "a/b"},
		{"a//b", "a/b"},
		{"a/./b", "a/b"},
		{"a/../b", "b"},
		{"../..", ""},
		{"..\\..\\etc", "etc"},
		{"  spaced  ", "spaced"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CleanRelPath(c.in), "input %q", c.in)
	}
}

func TestJoinWithinRoot(t *testing.T) {
	root := t.TempDir()

	got, err := JoinWithinRoot(root, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, root+"/a/b.txt", got)

	got, err = JoinWithinRoot(root, "")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	// escapes collapse back inside the root rather than erroring
	got, err = JoinWithinRoot(root, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, root+"/etc/passwd", got)

	_, err = JoinWithinRoot(root, "a\x00b")
	require.Error(t, err)
}

func TestEnoughSpace(t *testing.T) {
	assert.False(t, enoughSpace(SpaceThreshold, 0))
	assert.True(t, enoughSpace(SpaceThreshold+1, 0))
	assert.False(t, enoughSpace(SpaceThreshold+100, 100))
	assert.True(t, enoughSpace(SpaceThreshold+101, 100))
}

func TestFreeSpace(t *testing.T) {
	free, err := FreeSpace(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, free)
}
