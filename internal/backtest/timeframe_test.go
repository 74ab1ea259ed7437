package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)
	assert.Equal(t, "1h", tf.SourceInterval)

	// 本地 7d 映射到数据源的 1w。
	tf, err = ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", tf.SourceInterval)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
}

func TestSupportedTimeframes(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1h")
	assert.Contains(t, keys, "1d")
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	hour := tf.durationMillis()

	start, end := tf.AlignRange(hour+123, 3*hour+456)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 颠倒的区间会被纠正。
	start, end = tf.AlignRange(3*hour, hour)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	hour := tf.durationMillis()

	assert.Equal(t, int64(3), tf.ExpectedCandles(hour, 3*hour))
	assert.Equal(t, int64(1), tf.ExpectedCandles(hour, hour))
	assert.Equal(t, int64(0), tf.ExpectedCandles(3*hour, hour))
}
