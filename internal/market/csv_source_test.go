package market

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVSourceReplay(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,100,101,99,100.5,12
1704070800000,100.5,102,100,101,8
`)
	src, err := NewCSVSource("BTCUSDT", path)
	require.NoError(t, err)

	bar, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", bar.Symbol)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bar.Timestamp)
	assert.Equal(t, 100.5, bar.Close)
	assert.Equal(t, 12.0, bar.Volume)

	// 毫秒时间戳同样可解析。
	bar, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1704070800000), bar.Timestamp.UnixMilli())

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

func TestCSVSourceRejectsUnorderedRows(t *testing.T) {
	path := writeCSV(t, `timestamp,close
2024-01-02T00:00:00Z,100
2024-01-01T00:00:00Z,90
`)
	src, err := NewCSVSource("BTCUSDT", path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	assert.Error(t, err)
}

func TestCSVSourceMissingTimestampColumn(t *testing.T) {
	path := writeCSV(t, `open,close
1,2
`)
	_, err := NewCSVSource("BTCUSDT", path)
	assert.Error(t, err)
}
