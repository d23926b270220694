package autoupdate

import (
	"errors"
	"fmt"
)

// ArchiveErrorKind classifies why a repository archive could not be inspected
type ArchiveErrorKind int

const (
	ArchiveOpenFailed ArchiveErrorKind = iota
	ArchiveHeaderNotFound
	ArchiveExtractFailed
)

func (k ArchiveErrorKind) String() string {
	switch k {
	case ArchiveOpenFailed:
		return "OpenFailed"
	case ArchiveHeaderNotFound:
		return "HeaderNotFound"
	case ArchiveExtractFailed:
		return "ExtractFailed"
	default:
		return "Unknown"
	}
}

// ArchiveError is scoped to a single package. Scans skip the package and
// keep going.
type ArchiveError struct {
	Kind    ArchiveErrorKind
	Archive string
	Err     error
}

func (e *ArchiveError) Error() string {
	msg := fmt.Sprintf("archive %s: %s", e.Archive, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ApplyErrorKind classifies why an update could not be applied
type ApplyErrorKind int

const (
	ApplyNotFound ApplyErrorKind = iota
	ApplyPackageMissing
	ApplyCopyFailed
	ApplyDestinationNotWritable
	ApplyInvalidPackage
	ApplyUpgradeEngineFailure
	ApplyUnknownFailure
	ApplyBusy
)

var applyKindNames = map[ApplyErrorKind]string{
	ApplyNotFound:               "NotFound",
	ApplyPackageMissing:         "PackageMissing",
	ApplyCopyFailed:             "CopyFailed",
	ApplyDestinationNotWritable: "DestinationNotWritable",
	ApplyInvalidPackage:         "InvalidPackage",
	ApplyUpgradeEngineFailure:   "UpgradeEngineFailure",
	ApplyUnknownFailure:         "UnknownFailure",
	ApplyBusy:                   "Busy",
}

// applyKindMessages are shown to the user
var applyKindMessages = map[ApplyErrorKind]string{
	ApplyNotFound:               "Plugin not found in repository.",
	ApplyPackageMissing:         "Plugin ZIP file not found in repository.",
	ApplyCopyFailed:             "Failed to copy the plugin files.",
	ApplyDestinationNotWritable: "The plugin directory is not writable.",
	ApplyInvalidPackage:         "The extracted ZIP does not contain the expected plugin file.",
	ApplyUpgradeEngineFailure:   "The upgrade engine reported an error.",
	ApplyUnknownFailure:         "Plugin update failed for an unknown reason.",
	ApplyBusy:                   "Another update of this plugin is in progress.",
}

func (k ApplyErrorKind) String() string {
	if name, ok := applyKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ApplyError is scoped to a single package and never aborts a batch.
type ApplyError struct {
	Kind    ApplyErrorKind
	Package string
	Err     error
}

func (e *ApplyError) Error() string {
	msg := applyKindMessages[e.Kind]
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Package != "" {
		msg = e.Package + ": " + msg
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Message returns the user-facing text for the error kind.
func (e *ApplyError) Message() string {
	return applyKindMessages[e.Kind]
}

func newApplyError(kind ApplyErrorKind, pkg string, err error) *ApplyError {
	return &ApplyError{Kind: kind, Package: pkg, Err: err}
}

// ApplyKindOf returns the kind of an ApplyError anywhere in err's chain.
func ApplyKindOf(err error) (ApplyErrorKind, bool) {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Kind, true
	}
	return 0, false
}

// IsApplyKind reports whether err carries an ApplyError of the given kind.
func IsApplyKind(err error, kind ApplyErrorKind) bool {
	k, ok := ApplyKindOf(err)
	return ok && k == kind
}
