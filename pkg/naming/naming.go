// Package naming derives snapshot names from a prefix and a timestamp and
// recovers the timestamp from an existing name.
//
// A snapshot name is "{prefix}-{suffix}" where suffix is the snapshot time
// rendered through a strftime pattern. The same scheme is used when creating
// and when cleaning, so it is the contract between separate invocations.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
)

const (
	// DefaultFormat matches names like "home-2024-01-31-235959".
	DefaultFormat = "%Y-%m-%d-%H%M%S"

	// DefaultSnapshotPath is where snapshots are stored, relative to the subvolume.
	DefaultSnapshotPath = ".snapshots"

	// Separator joins the prefix and the rendered timestamp.
	Separator = "-"
)

var (
	// ErrInvalidFormat is returned when a format cannot produce parseable names.
	ErrInvalidFormat = errors.New("invalid snapshot name format")

	// ErrInvalidPrefix is returned for empty prefixes or prefixes containing a path separator.
	ErrInvalidPrefix = errors.New("invalid snapshot name prefix")
)

// Probe times differ in every field so a format without any time-dependent
// specifier is caught in NewStrftime.
var (
	probeTime      = time.Date(2009, time.November, 17, 20, 34, 58, 0, time.UTC)
	otherProbeTime = time.Date(2012, time.March, 4, 7, 9, 13, 0, time.UTC)
)

// Formatter renders timestamps into name suffixes and parses them back.
type Formatter interface {
	Format(t time.Time) string
	Parse(s string) (time.Time, error)
}

// Strftime is a Formatter backed by a strftime pattern.
type Strftime struct {
	pattern string
	loc     *time.Location
}

// NewStrftime validates pattern and returns a Formatter rendering in loc.
// A nil loc means local time.
func NewStrftime(pattern string, loc *time.Location) (*Strftime, error) {
	if loc == nil {
		loc = time.Local
	}
	if !strings.Contains(pattern, "%") {
		return nil, fmt.Errorf("%w: %q has no conversion specifiers", ErrInvalidFormat, pattern)
	}

	f := &Strftime{pattern: pattern, loc: loc}

	probe := probeTime.In(loc)
	rendered := f.Format(probe)
	if rendered == "" {
		return nil, fmt.Errorf("%w: %q renders an empty string", ErrInvalidFormat, pattern)
	}
	if strings.ContainsRune(rendered, filepath.Separator) {
		return nil, fmt.Errorf("%w: %q renders a path separator", ErrInvalidFormat, pattern)
	}
	if rendered == f.Format(otherProbeTime.In(loc)) {
		return nil, fmt.Errorf("%w: %q does not depend on the time", ErrInvalidFormat, pattern)
	}
	if _, err := f.Parse(rendered); err != nil {
		return nil, fmt.Errorf("%w: %q cannot be parsed back: %v", ErrInvalidFormat, pattern, err)
	}

	return f, nil
}

// Pattern returns the strftime pattern.
func (f *Strftime) Pattern() string {
	return f.pattern
}

// Format renders t in the formatter's location.
func (f *Strftime) Format(t time.Time) string {
	return timefmt.Format(t.In(f.loc), f.pattern)
}

// Parse parses s and requires that formatting the result gives s back.
// Lenient matches (extra digits, different padding) are rejected.
func (f *Strftime) Parse(s string) (time.Time, error) {
	t, err := timefmt.ParseInLocation(s, f.pattern, f.loc)
	if err != nil {
		return time.Time{}, err
	}
	if got := f.Format(t); got != s {
		return time.Time{}, fmt.Errorf("%q does not round trip through %q (got %q)", s, f.pattern, got)
	}
	return t, nil
}

// ParseError reports a directory entry that is not a snapshot of this scheme.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse snapshot name %q: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errPrefixMismatch = errors.New("prefix does not match")

// Scheme names snapshots of a single subvolume.
type Scheme struct {
	Prefix    string
	Formatter Formatter
}

// NewScheme returns a Scheme for prefix using a strftime format in local time.
func NewScheme(prefix, format string) (*Scheme, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	f, err := NewStrftime(format, nil)
	if err != nil {
		return nil, err
	}
	return &Scheme{Prefix: prefix, Formatter: f}, nil
}

// Name returns the snapshot name for now.
func (s *Scheme) Name(now time.Time) string {
	return s.Prefix + Separator + s.Formatter.Format(now)
}

// Parse returns the creation time encoded in name. The error is always a *ParseError.
func (s *Scheme) Parse(name string) (time.Time, error) {
	suffix, ok := strings.CutPrefix(name, s.Prefix+Separator)
	if !ok {
		return time.Time{}, &ParseError{Name: name, Err: errPrefixMismatch}
	}
	t, err := s.Formatter.Parse(suffix)
	if err != nil {
		return time.Time{}, &ParseError{Name: name, Err: err}
	}
	return t, nil
}

// DefaultPrefix derives a prefix from the last element of the subvolume path.
func DefaultPrefix(subvolPath string) (string, error) {
	base := filepath.Base(filepath.Clean(subvolPath))
	if err := validatePrefix(base); err != nil {
		return "", fmt.Errorf("cannot derive prefix from %q, set one explicitly: %w", subvolPath, err)
	}
	return base, nil
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "", prefix == ".", prefix == "..":
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	case strings.ContainsRune(prefix, filepath.Separator):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidPrefix, prefix)
	}
	return nil
}
