package naming

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utcScheme(t *testing.T, prefix, format string) *Scheme {
	t.Helper()
	f, err := NewStrftime(format, time.UTC)
	require.NoError(t, err)
	return &Scheme{Prefix: prefix, Formatter: f}
}

func TestSchemeName(t *testing.T) {
	s := utcScheme(t, "snap", DefaultFormat)
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "snap-2024-01-01-000000", s.Name(now))

	now = time.Date(2024, time.December, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, "snap-2024-12-31-235958", s.Name(now))
}

func TestSchemeRoundTrip(t *testing.T) {
	tests := []struct {
		prefix string
		format string
		at     time.Time
		want   time.Time
	}{
		{"snap", DefaultFormat, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"home", DefaultFormat, time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"my-root-vol", DefaultFormat, time.Date(2030, 6, 15, 12, 30, 45, 0, time.UTC), time.Date(2030, 6, 15, 12, 30, 45, 0, time.UTC)},
		{"@home", "%Y%m%dT%H%M", time.Date(2024, 2, 29, 6, 7, 8, 0, time.UTC), time.Date(2024, 2, 29, 6, 7, 0, 0, time.UTC)},
		{"data", "%Y-%m-%d", time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"nanos", DefaultFormat, time.Date(2024, 3, 1, 18, 0, 1, 999, time.UTC), time.Date(2024, 3, 1, 18, 0, 1, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+" "+tt.format, func(t *testing.T) {
			s := utcScheme(t, tt.prefix, tt.format)
			got, err := s.Parse(s.Name(tt.at))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestSchemeParseRejects(t *testing.T) {
	s := utcScheme(t, "snap", DefaultFormat)

	names := []string{
		"random_file",
		"snap",
		"snap-",
		"other-2024-01-01-000000",
		"snapshot-2024-01-01-000000",
		"snap-2024-01-01",
		"snap-2024-01-01-000000.bak",
		"snap-2024-13-01-000000",
		"snap-2024-1-01-000000",
		"snap_2024-01-01-000000",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := s.Parse(name)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, name, perr.Name)
		})
	}
}

func TestNewStrftimeInvalid(t *testing.T) {
	formats := []string{
		"",
		"snapshot",
		"%%",
		"%Y/%m/%d",
	}

	for _, format := range formats {
		t.Run(format, func(t *testing.T) {
			_, err := NewStrftime(format, time.UTC)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestNewSchemeInvalidPrefix(t *testing.T) {
	for _, prefix := range []string{"", ".", "..", "a/b"} {
		_, err := NewScheme(prefix, DefaultFormat)
		assert.ErrorIs(t, err, ErrInvalidPrefix, "prefix %q", prefix)
	}
}

func TestDefaultPrefix(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"home", "home"},
		{"@home", "@home"},
		{"vols/data", "data"},
		{"vols/data/", "data"},
		{"/mnt/pool/root", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := DefaultPrefix(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, path := range []string{".", "/", ""} {
		_, err := DefaultPrefix(path)
		assert.ErrorIs(t, err, ErrInvalidPrefix, "path %q", path)
	}
}
