package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveback/internal/market"
)

// fakeSource 按周期网格合成 K 线。
type fakeSource struct {
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	f.calls++
	var out []market.Candle
	for cursor := req.Start; cursor <= req.End && len(out) < req.Limit; cursor += hourMillis {
		out = append(out, market.Candle{
			OpenTime:  cursor,
			CloseTime: cursor + hourMillis - 1,
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: 1,
		})
	}
	return out, nil
}

func newTestFetchService(t *testing.T, store *CandleStore, src CandleSource) *FetchService {
	t.Helper()
	svc, err := NewFetchService(FetchServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"fake": src},
		DefaultExchange: "fake",
		RateLimitPerMin: 6000,
		MaxBatch:        100,
	})
	require.NoError(t, err)
	return svc
}

func TestSubmitFetchFillsGaps(t *testing.T) {
	store := newTestStore(t)
	svc := newTestFetchService(t, store, &fakeSource{})

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     hourMillis,
		End:       5 * hourMillis,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusDone
	}, 5*time.Second, 10*time.Millisecond)

	report, err := store.CheckIntegrity(context.Background(), "BTCUSDT", "1h", mustTimeframe(t, "1h"), hourMillis, 5*hourMillis)
	require.NoError(t, err)
	assert.True(t, report.Complete())
}

func TestSubmitFetchAlreadyComplete(t *testing.T) {
	store := newTestStore(t)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h", gridCandles(hourMillis, 5, 100))
	require.NoError(t, err)

	src := &fakeSource{}
	svc := newTestFetchService(t, store, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     hourMillis,
		End:       5 * hourMillis,
	})
	require.NoError(t, err)
	// 数据完整时直接结束，不触发拉取。
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, 0, src.calls)
}

func TestSubmitFetchValidation(t *testing.T) {
	store := newTestStore(t)
	svc := newTestFetchService(t, store, &fakeSource{})

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1h", Start: 1, End: 2})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "2h", Start: 1, End: 2})
	assert.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{
		Symbol: "BTCUSDT", Timeframe: "1h", Exchange: "nope",
		Start: hourMillis, End: 2 * hourMillis,
	})
	assert.Error(t, err)
}

func mustTimeframe(t *testing.T, key string) Timeframe {
	t.Helper()
	tf, err := ParseTimeframe(key)
	require.NoError(t, err)
	return tf
}
