package config

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"
)

// RepoErrorKind classifies a repository path problem
type RepoErrorKind int

const (
	RepoPathEmpty RepoErrorKind = iota
	RepoPathMissing
	RepoPathNotADirectory
	RepoPathUnreadable
)

func (k RepoErrorKind) String() string {
	switch k {
	case RepoPathEmpty:
		return "Empty"
	case RepoPathMissing:
		return "Missing"
	case RepoPathNotADirectory:
		return "NotADirectory"
	case RepoPathUnreadable:
		return "Unreadable"
	default:
		return "Unknown"
	}
}

// RepositoryConfigError is returned when the configured repository path
// cannot be used. It stops the whole scan or apply batch.
type RepositoryConfigError struct {
	Kind RepoErrorKind
	Path string
}

func (e *RepositoryConfigError) Error() string {
	msg := e.sentinel().Error()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	return msg
}

// Unwrap returns the sentinel matching the kind
func (e *RepositoryConfigError) Unwrap() error {
	return e.sentinel()
}

func (e *RepositoryConfigError) sentinel() error {
	switch e.Kind {
	case RepoPathMissing:
		return ErrRepoPathNotFound
	case RepoPathNotADirectory:
		return ErrRepoPathNotDir
	case RepoPathUnreadable:
		return ErrRepoPathUnreadable
	default:
		return ErrRepoPathNotSet
	}
}

// ValidateRepoPath checks the repository path in order: empty, missing,
// not a directory, unreadable. It returns the expanded path.
func ValidateRepoPath(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return "", &RepositoryConfigError{Kind: RepoPathEmpty}
	}

	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}

	info, err := fs.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return "", &RepositoryConfigError{Kind: RepoPathMissing, Path: expanded}
		}
		return "", &RepositoryConfigError{Kind: RepoPathUnreadable, Path: expanded}
	}

	if !info.IsDir() {
		return "", &RepositoryConfigError{Kind: RepoPathNotADirectory, Path: expanded}
	}

	dir, err := fs.Open(expanded)
	if err != nil {
		return "", &RepositoryConfigError{Kind: RepoPathUnreadable, Path: expanded}
	}
	defer dir.Close()

	if _, err := dir.Readdirnames(1); err != nil && err != io.EOF {
		return "", &RepositoryConfigError{Kind: RepoPathUnreadable, Path: expanded}
	}

	return expanded, nil
}

// ValidatedRepoPath validates the configured repository path against fs.
func (c *Config) ValidatedRepoPath(fs afero.Fs) (string, error) {
	return ValidateRepoPath(fs, c.RepoPath)
}
