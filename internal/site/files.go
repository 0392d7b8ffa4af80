package site

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"wpdock/internal/domain"
)

const maxReadSize = 10 * 1024 * 1024

type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	IsDirectory  bool      `json:"isDirectory"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Files is a read-only view of a site's document root.
type Files struct {
	registry interface {
		Get(name string) (domain.Site, error)
	}
	root func(name string) string
}

func NewFiles(reg interface {
	Get(name string) (domain.Site, error)
}, root func(name string) string) *Files {
	return &Files{registry: reg, root: root}
}

func (f *Files) sanitizePath(name, requestPath string) (string, error) {
	if _, err := f.registry.Get(name); err != nil {
		return "", err
	}
	siteRoot := filepath.Clean(f.root(name))

	clean := filepath.Clean("/" + requestPath)
	fullPath := filepath.Join(siteRoot, clean)

	if fullPath != siteRoot && !strings.HasPrefix(fullPath, siteRoot+string(filepath.Separator)) {
		return "", domain.Validationf("access denied: path outside site directory")
	}
	return fullPath, nil
}

func statErr(err error, requestPath string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NotFoundf("%s does not exist", requestPath)
	}
	return err
}

func (f *Files) List(name, requestPath string) ([]FileEntry, error) {
	fullPath, err := f.sanitizePath(name, requestPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, statErr(err, requestPath)
	}
	if !info.IsDir() {
		return nil, domain.Validationf("%s is not a directory", requestPath)
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		relPath := filepath.ToSlash(filepath.Join("/", requestPath, entry.Name()))
		files = append(files, FileEntry{
			Name:         entry.Name(),
			Path:         relPath,
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDirectory != files[j].IsDirectory {
			return files[i].IsDirectory
		}
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})

	return files, nil
}

func (f *Files) Read(name, requestPath string) ([]byte, error) {
	fullPath, err := f.sanitizePath(name, requestPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, statErr(err, requestPath)
	}
	if info.IsDir() {
		return nil, domain.Validationf("cannot read a directory")
	}
	if info.Size() > maxReadSize {
		return nil, domain.Validationf("file too large to read (max 10MB)")
	}

	return os.ReadFile(fullPath)
}

func (f *Files) Open(name, requestPath string) (io.ReadCloser, error) {
	fullPath, err := f.sanitizePath(name, requestPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, statErr(err, requestPath)
	}
	if info.IsDir() {
		return nil, domain.Validationf("cannot download a directory")
	}

	return os.Open(fullPath)
}
