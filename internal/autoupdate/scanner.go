package autoupdate

import (
	"context"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/semver"
	"github.com/obentoo/plugsync/internal/host"
)

// UpdateDescriptor describes a package whose repository version is newer
// than the installed one.
type UpdateDescriptor struct {
	// PackageID is the installed package id (slug/main-file)
	PackageID string `json:"plugin"`
	// Slug is the directory grouping of the package
	Slug string `json:"slug"`
	// Name is the display name
	Name string `json:"name"`
	// CurrentVersion is the installed version
	CurrentVersion string `json:"current_version"`
	// NewVersion is the version found in the repository
	NewVersion string `json:"new_version"`
	// Source is the repository entry holding the new version
	Source RepositoryEntry `json:"source"`
}

// Scanner compares installed packages against the repository.
type Scanner struct {
	resolver  *Resolver
	inspector *Inspector
	log       *logger.Logger
}

// NewScanner creates a scanner.
func NewScanner(resolver *Resolver, inspector *Inspector, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.Discard()
	}
	return &Scanner{resolver: resolver, inspector: inspector, log: log}
}

// Scan returns a descriptor for every package whose repository version is
// strictly newer than the installed version, in the order of installed.
// Packages without a directory, without a repository entry, or whose archive
// cannot be inspected are skipped. Scan only fails when ctx is done.
func (s *Scanner) Scan(ctx context.Context, installed []host.Package) ([]UpdateDescriptor, error) {
	updates := make([]UpdateDescriptor, 0)

	for _, pkg := range installed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slug := pkg.Slug
		if slug == "" {
			slug = host.SlugOf(pkg.ID)
		}
		if slug == host.SingleFileSlug {
			continue
		}

		entry, ok := s.resolver.Find(slug)
		if !ok {
			continue
		}
		if !entry.HasArchive() {
			s.log.Debug("%s: repository directory %s has no archive", pkg.ID, entry.Dir)
			continue
		}

		h, err := s.inspector.Inspect(entry)
		if err != nil {
			s.log.WithField("package", pkg.ID).Debug("skipping: %v", err)
			continue
		}

		if !semver.GreaterThan(h.Version, pkg.Version) {
			s.log.Debug("%s: repository %s is not newer than installed %s", pkg.ID, h.Version, pkg.Version)
			continue
		}

		name := pkg.Name
		if name == "" {
			name = h.Name
		}
		updates = append(updates, UpdateDescriptor{
			PackageID:      pkg.ID,
			Slug:           slug,
			Name:           name,
			CurrentVersion: pkg.Version,
			NewVersion:     h.Version,
			Source:         entry,
		})
	}

	return updates, nil
}
