// Package archive reads and unpacks package zip files through an afero filesystem.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Permissions applied to every unpacked or copied tree
const (
	DirPerm  os.FileMode = 0755
	FilePerm os.FileMode = 0644
)

// Limits guarding against malformed or hostile archives
const (
	maxFiles             = 20000
	maxUncompressedBytes = 1 << 30
)

var (
	ErrUnsafePath = errors.New("archive entry escapes destination")
	ErrTooLarge   = errors.New("archive exceeds size limits")
)

// Reader is an open zip archive backed by an afero file.
type Reader struct {
	*zip.Reader
	file afero.File
}

// Open opens the zip archive at path on fs.
func Open(fs afero.Fs, archivePath string) (*Reader, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// Entry names are checked by SafeJoin on extraction
	zr, err := zip.NewReader(f, info.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		f.Close()
		return nil, err
	}

	return &Reader{Reader: zr, file: f}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Lookup returns the entry with the exact name, or nil.
func (r *Reader) Lookup(name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ReadHead returns up to n bytes from the start of an entry.
func ReadHead(f *zip.File, n int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, n))
}

// Depth returns the number of directory separators in a zip entry name.
func Depth(name string) int {
	return strings.Count(name, "/")
}

// ExtractFile writes a single entry below dest and returns its path.
func ExtractFile(fs afero.Fs, f *zip.File, dest string) (string, error) {
	target, err := SafeJoin(dest, f.Name)
	if err != nil {
		return "", err
	}
	if err := fs.MkdirAll(filepath.Dir(target), DirPerm); err != nil {
		return "", err
	}
	if err := writeEntry(fs, f, target); err != nil {
		return "", err
	}
	return target, nil
}

// ExtractAll unpacks every entry of the archive at archivePath into dest.
func ExtractAll(fs afero.Fs, archivePath, dest string) error {
	r, err := Open(fs, archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := fs.MkdirAll(dest, DirPerm); err != nil {
		return err
	}

	var (
		files   int
		totalSz uint64
	)
	for _, f := range r.File {
		target, err := SafeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, DirPerm); err != nil {
				return err
			}
			continue
		}

		files++
		totalSz += f.UncompressedSize64
		if files > maxFiles || totalSz > maxUncompressedBytes {
			return ErrTooLarge
		}

		if err := fs.MkdirAll(filepath.Dir(target), DirPerm); err != nil {
			return err
		}
		if err := writeEntry(fs, f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}

	return nil
}

func writeEntry(fs afero.Fs, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FilePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SafeJoin joins an archive entry name onto base, rejecting entries that
// would land outside base.
func SafeJoin(base, name string) (string, error) {
	clean := path.Clean(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(base, filepath.FromSlash(clean)), nil
}

// FindRoot returns the package root of an unpacked tree: the single
// top-level directory when that is all the tree holds, dir itself otherwise.
// macOS resource fork folders are ignored.
func FindRoot(fs afero.Fs, dir string) (string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return "", err
	}

	var kept []os.FileInfo
	for _, e := range entries {
		if e.Name() == "__MACOSX" {
			continue
		}
		kept = append(kept, e)
	}

	if len(kept) == 1 && kept[0].IsDir() {
		return filepath.Join(dir, kept[0].Name()), nil
	}
	return dir, nil
}

// CopyTree recursively copies src into dst. Directories get DirPerm and
// files get FilePerm regardless of their source modes.
func CopyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if err := fs.MkdirAll(target, DirPerm); err != nil {
				return err
			}
			return fs.Chmod(target, DirPerm)
		}

		return copyFile(fs, p, target)
	})
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FilePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Chmod(dst, FilePerm)
}
