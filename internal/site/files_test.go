package site

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneSite string

func (o oneSite) Get(name string) (domain.Site, error) {
	if name != string(o) {
		return domain.Site{}, domain.NotFoundf("site %q not found", name)
	}
	return domain.Site{ProjectName: name}, nil
}

func newFiles(t *testing.T) (*Files, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "demo", "html")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "wp-content", "themes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.php"), []byte("<?php"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "wp-config.php"), []byte("<?php // config"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "demo", "secret.txt"), []byte("nope"), 0644))
	return NewFiles(oneSite("demo"), func(name string) string {
		return filepath.Join(base, name, "html")
	}), root
}

func TestListFilesDirectoriesFirst(t *testing.T) {
	f, _ := newFiles(t)

	entries, err := f.List("demo", "/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "wp-content", entries[0].Name)
	assert.True(t, entries[0].IsDirectory)
	assert.Equal(t, "/index.php", entries[1].Path)

	entries, err = f.List("demo", "wp-content")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/wp-content/themes", entries[0].Path)
}

func TestFilesStayInsideDocumentRoot(t *testing.T) {
	f, _ := newFiles(t)

	// Traversal is clamped to the root rather than escaping it.
	_, err := f.Read("demo", "../secret.txt")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	data, err := f.Read("demo", "/../../index.php")
	require.NoError(t, err)
	assert.Equal(t, "<?php", string(data))
}

func TestReadAndOpen(t *testing.T) {
	f, _ := newFiles(t)

	data, err := f.Read("demo", "index.php")
	require.NoError(t, err)
	assert.Equal(t, "<?php", string(data))

	rc, err := f.Open("demo", "/wp-config.php")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "config")

	_, err = f.Open("demo", "/wp-content")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestFilesUnknownSite(t *testing.T) {
	f, _ := newFiles(t)
	_, err := f.List("ghost", "/")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
