package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 29, 14, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	t.Run("duration is relative to now", func(t *testing.T) {
		got, err := Parse("1h30m", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-90*time.Minute), got)
	})

	t.Run("RFC3339", func(t *testing.T) {
		got, err := Parse("2026-10-29T13:00:00Z", now)
		require.NoError(t, err)
		assert.True(t, got.Equal(time.Date(2026, 10, 29, 13, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, spec := range []string{"", "yesterday", "-5m", "2026-10-29"} {
			_, err := Parse(spec, now)
			assert.Error(t, err, spec)
		}
	})
}

func TestParseRange(t *testing.T) {
	t.Run("open ends", func(t *testing.T) {
		since, until, err := ParseRange("", "", now)
		require.NoError(t, err)
		assert.True(t, since.IsZero())
		assert.True(t, until.IsZero())
	})

	t.Run("both bounds", func(t *testing.T) {
		since, until, err := ParseRange("2h", "1h", now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-2*time.Hour), since)
		assert.Equal(t, now.Add(-time.Hour), until)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, _, err := ParseRange("1h", "2h", now)
		assert.ErrorContains(t, err, "--since must be before --until")
	})

	t.Run("names the bad flag", func(t *testing.T) {
		_, _, err := ParseRange("soon", "", now)
		assert.ErrorContains(t, err, "--since")
		_, _, err = ParseRange("", "later", now)
		assert.ErrorContains(t, err, "--until")
	})
}
