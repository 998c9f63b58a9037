package cookies

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffName(t *testing.T) {
	assert.Equal(t, "instagram.com-cookies.txt", HandoffName("https://Instagram.com/"))
	assert.Equal(t, "localhost-cookies.txt", HandoffName("localhost:8080"))
}

func TestResolveHandoffPath_NoDir(t *testing.T) {
	_, err := ResolveHandoffPath("", "", "a.test")
	assert.EqualError(t, err, "path is required")

	got, err := ResolveHandoffPath("", "/tmp/x/../cookies.txt", "a.test")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cookies.txt", got)

	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err = ResolveHandoffPath("", "~/c.txt", "a.test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "c.txt"), got)
}

func TestResolveHandoffPath_WithinDir(t *testing.T) {
	dir := t.TempDir()
	root := resolveSymlinks(dir)

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"default name", "", filepath.Join(root, "a.test-cookies.txt")},
		{"relative", "sub/c.txt", filepath.Join(root, "sub", "c.txt")},
		{"absolute inside", filepath.Join(dir, "c.txt"), filepath.Join(root, "c.txt")},
		{"dot segments inside", "sub/../c.txt", filepath.Join(root, "c.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveHandoffPath(dir, tt.requested, "a.test")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveHandoffPath_Escapes(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	for _, requested := range []string{
		"../c.txt",
		"sub/../../c.txt",
		filepath.Join(outside, "c.txt"),
		".",
	} {
		_, err := ResolveHandoffPath(dir, requested, "a.test")
		assert.ErrorIs(t, err, ErrOutsideHandoffDir, requested)
	}

	// A symlink inside the directory pointing out of it does not help.
	link := filepath.Join(dir, "out")
	require.NoError(t, os.Symlink(outside, link))
	_, err := ResolveHandoffPath(dir, "out/c.txt", "a.test")
	assert.ErrorIs(t, err, ErrOutsideHandoffDir)
}

func TestResolveHandoffPath_MissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet")
	got, err := ResolveHandoffPath(dir, "", "a.test")
	require.NoError(t, err)
	assert.Equal(t, "a.test-cookies.txt", filepath.Base(got))
	assert.Equal(t, "yet", filepath.Base(filepath.Dir(got)))
}
