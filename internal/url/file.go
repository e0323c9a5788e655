package url

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const filePrefix = "file://"

// FileURL is a URL backed by the local filesystem. The path portion may
// contain glob metacharacters (*, ?, [), which Expand resolves.
type FileURL struct {
	raw    string
	mode   Mode
	prefix string
	path   string

	fh *os.File
}

func init() {
	RegisterScheme("file", func(raw string, mode Mode) (URL, error) {
		return NewFileURL(raw, mode), nil
	})
}

// NewFileURL creates a local-file URL from a path or file:// string.
func NewFileURL(raw string, mode Mode) *FileURL {
	prefix := ""
	path := raw
	if strings.HasPrefix(raw, filePrefix) {
		prefix = filePrefix
		path = strings.TrimPrefix(raw, filePrefix)
	}
	return &FileURL{raw: raw, mode: mode, prefix: prefix, path: path}
}

func (u *FileURL) String() string { return u.raw }

func (u *FileURL) Mode() Mode { return u.mode }

// Path returns the filesystem path portion of the URL.
func (u *FileURL) Path() string { return u.path }

func (u *FileURL) Expand(ctx context.Context) ([]URL, error) {
	if hasGlobMeta(u.path) {
		matches, err := filepath.Glob(u.path)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		var acc []URL
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			if info.IsDir() {
				files, err := u.walk(match)
				if err != nil {
					return nil, err
				}
				acc = append(acc, files...)
				continue
			}
			acc = append(acc, NewFileURL(u.prefix+match, u.mode))
		}
		sortURLs(acc)
		return acc, nil
	}

	info, err := os.Stat(u.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing to expand yet.
			return []URL{u}, nil
		}
		return nil, Error.Wrap(err)
	}
	if !info.IsDir() {
		return []URL{u}, nil
	}
	acc, err := u.walk(u.path)
	if err != nil {
		return nil, err
	}
	sortURLs(acc)
	return acc, nil
}

// walk returns URLs for every regular file under root.
func (u *FileURL) walk(root string) ([]URL, error) {
	var acc []URL
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		acc = append(acc, NewFileURL(u.prefix+path, u.mode))
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return acc, nil
}

func (u *FileURL) Delete(ctx context.Context) error {
	if hasGlobMeta(u.path) {
		expanded, err := u.Expand(ctx)
		if err != nil {
			return err
		}
		for _, e := range expanded {
			if err := e.Delete(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	info, err := os.Stat(u.path)
	if err != nil {
		return Error.Wrap(err)
	}
	if info.IsDir() {
		return Error.Wrap(os.RemoveAll(u.path))
	}
	return Error.Wrap(os.Remove(u.path))
}

func (u *FileURL) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(u.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	return true, nil
}

func (u *FileURL) Size(ctx context.Context) (int64, error) {
	info, err := os.Stat(u.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, Error.Wrap(err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(u.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return total, nil
}

func (u *FileURL) Open(ctx context.Context) (Stream, error) {
	info, err := os.Stat(u.path)
	if err == nil && info.IsDir() {
		return nil, Error.New("cannot open directory %s for reading/writing", u.path)
	}

	var flags int
	switch {
	case u.mode.IsWrite():
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case u.mode.IsAppend():
		// No O_APPEND: the Avro writer reads the existing header before
		// seeking to the end.
		flags = os.O_RDWR | os.O_CREATE
	default:
		flags = os.O_RDONLY
	}
	if u.mode.IsWrite() || u.mode.IsAppend() {
		if dir := filepath.Dir(u.path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, Error.Wrap(err)
			}
		}
	}

	fh, err := os.OpenFile(u.path, flags, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	u.fh = fh
	return fh, nil
}

func (u *FileURL) Close(ctx context.Context) error {
	if u.fh == nil {
		return nil
	}
	err := u.fh.Close()
	u.fh = nil
	if err != nil && !strings.Contains(err.Error(), "file already closed") {
		return Error.Wrap(err)
	}
	return nil
}

func (u *FileURL) WithMode(mode Mode) URL {
	return NewFileURL(u.raw, mode)
}

func (u *FileURL) WithPath(path string) URL {
	if hasGlobMeta(u.path) {
		// Replace the glob pattern's last segment with the new name.
		return NewFileURL(u.prefix+filepath.Join(filepath.Dir(u.path), path), u.mode)
	}
	return NewFileURL(u.prefix+appendPath(u.path, path), u.mode)
}

// sortURLs orders URLs lexicographically by full URL string.
func sortURLs(urls []URL) {
	sort.Slice(urls, func(i, j int) bool { return urls[i].String() < urls[j].String() })
}
