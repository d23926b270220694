package autoupdate

import (
	"archive/zip"
	"errors"
	"path"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/archive"
	"github.com/obentoo/plugsync/internal/common/header"
	"github.com/obentoo/plugsync/internal/common/logger"
)

// Inspector reads the version declared inside a package archive by
// extracting only its main file.
type Inspector struct {
	fs         afero.Fs
	scratchDir string
	mainExt    string
	marker     string
	log        *logger.Logger
}

// InspectorOption is a functional option for configuring Inspector
type InspectorOption func(*Inspector)

// WithInspectorMarker sets the header marker identifying the main file
func WithInspectorMarker(marker string) InspectorOption {
	return func(i *Inspector) {
		if marker != "" {
			i.marker = marker
		}
	}
}

// WithInspectorMainExt sets the extension of candidate main files
func WithInspectorMainExt(ext string) InspectorOption {
	return func(i *Inspector) {
		if ext != "" {
			i.mainExt = ext
		}
	}
}

// WithInspectorLogger sets the logger
func WithInspectorLogger(log *logger.Logger) InspectorOption {
	return func(i *Inspector) {
		if log != nil {
			i.log = log
		}
	}
}

// NewInspector creates an inspector that extracts into scratchDir.
// An empty scratchDir uses the system temp directory.
func NewInspector(fs afero.Fs, scratchDir string, opts ...InspectorOption) *Inspector {
	i := &Inspector{
		fs:         fs,
		scratchDir: scratchDir,
		mainExt:    ".php",
		marker:     header.DefaultMarker,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect returns the header of the main file inside entry's archive.
// Errors are always *ArchiveError.
func (i *Inspector) Inspect(entry RepositoryEntry) (*header.Header, error) {
	r, err := archive.Open(i.fs, entry.ArchivePath)
	if err != nil {
		return nil, &ArchiveError{Kind: ArchiveOpenFailed, Archive: entry.ArchivePath, Err: err}
	}
	defer r.Close()

	main := i.locateMain(r, entry.Slug)
	if main == nil {
		return nil, &ArchiveError{Kind: ArchiveHeaderNotFound, Archive: entry.ArchivePath}
	}

	if i.scratchDir != "" {
		if err := i.fs.MkdirAll(i.scratchDir, archive.DirPerm); err != nil {
			return nil, &ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err}
		}
	}
	scratch, err := afero.TempDir(i.fs, i.scratchDir, "plugsync-inspect-")
	if err != nil {
		return nil, &ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err}
	}
	defer i.fs.RemoveAll(scratch)

	extracted, err := archive.ExtractFile(i.fs, main, scratch)
	if err != nil {
		return nil, &ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err}
	}

	f, err := i.fs.Open(extracted)
	if err != nil {
		return nil, &ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err}
	}
	defer f.Close()

	h, err := header.ParseMain(f, i.marker)
	if err != nil {
		if errors.Is(err, header.ErrNoMarker) || errors.Is(err, header.ErrNoVersion) {
			return nil, &ArchiveError{Kind: ArchiveHeaderNotFound, Archive: entry.ArchivePath, Err: err}
		}
		return nil, &ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err}
	}

	i.log.Debug("%s declares version %s in %s", entry.ArchivePath, h.Version, main.Name)
	return h, nil
}

// VersionOf returns the version declared in entry's archive, or false when
// it cannot be determined.
func (i *Inspector) VersionOf(entry RepositoryEntry) (string, bool) {
	h, err := i.Inspect(entry)
	if err != nil {
		i.log.Debug("no usable version: %v", err)
		return "", false
	}
	return h.Version, true
}

// locateMain finds the header-bearing file: slug/slug<ext> first, then a
// one-level-deep file under slug/ carrying the marker, then any one-level-deep
// file carrying the marker.
func (i *Inspector) locateMain(r *archive.Reader, slug string) *zip.File {
	if f := r.Lookup(slug + "/" + slug + i.mainExt); f != nil {
		return f
	}

	var anyDir *zip.File
	for _, f := range r.File {
		if !i.isCandidate(f) {
			continue
		}
		inSlug := path.Dir(f.Name) == slug
		if !inSlug && anyDir != nil {
			continue
		}
		if !i.hasMarker(f) {
			continue
		}
		if inSlug {
			return f
		}
		anyDir = f
	}
	return anyDir
}

func (i *Inspector) isCandidate(f *zip.File) bool {
	return !f.FileInfo().IsDir() &&
		archive.Depth(f.Name) == 1 &&
		path.Ext(f.Name) == i.mainExt
}

func (i *Inspector) hasMarker(f *zip.File) bool {
	head, err := archive.ReadHead(f, header.MaxHeaderBytes)
	if err != nil {
		return false
	}
	return header.HasMarker(head, i.marker)
}
