package calendar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- date: "2026-01-01"
  open: false
- date: "2026-01-02"
  open: true
`), 0644))

	days, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, days, 2)

	cal := NewMarket(days, zerolog.Nop())
	assert.False(t, cal.IsBusinessDay(mustDate(t, "2026-01-01")), "listed holiday (a Thursday)")
	assert.True(t, cal.IsBusinessDay(mustDate(t, "2026-01-02")))
}

func TestLoadFileRejectsBadDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- date: "01/01/2026"
  open: false
`), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
