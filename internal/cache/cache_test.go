package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/compex/internal/metrics"
)

func TestKey_DigestsRequestDeterministically(t *testing.T) {
	type req struct {
		RP   float64 `json:"rp"`
		Seed uint64  `json:"seed"`
	}

	a, err := Key("design", req{RP: 100, Seed: 7})
	require.NoError(t, err)
	b, err := Key("design", req{RP: 100, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical requests share a key")

	c, err := Key("design", req{RP: 100, Seed: 8})
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "any parameter change moves the key")

	d, err := Key("simulate", req{RP: 100, Seed: 7})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "the kind namespaces the key")

	assert.Contains(t, a, "compex:design:", "keys carry the kind prefix")
}

func TestCache_MemoryTier(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "empty cache misses")

	c.Set(ctx, "k", []byte("payload"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	c.Purge()
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "purge clears the memory tier")
}

func TestCache_MemoryTTLExpiry(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	base := time.Now()
	c.mem.now = func() time.Time { return base }

	c.Set(context.Background(), "k", []byte("v"))
	_, ok := c.Get(context.Background(), "k")
	require.True(t, ok, "fresh entry is served")

	c.mem.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok, "expired entry is a miss")
	assert.Equal(t, 0, c.mem.len(), "expired entry is evicted on access")
}

func TestCache_RedisHitPromotesToMemory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(Options{Redis: db})
	ctx := context.Background()

	mock.ExpectGet("k").SetVal("remote")

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), got)

	// Second read must be served in process, no further Redis traffic.
	got, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_RedisMissThenSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(Options{Redis: db, TTL: time.Minute})
	ctx := context.Background()

	mock.ExpectGet("k").RedisNil()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "redis nil is a miss")

	mock.ExpectSet("k", []byte("v"), time.Minute).SetVal("OK")
	c.Set(ctx, "k", []byte("v"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(Options{Redis: db})
	ctx := context.Background()
	down := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		mock.ExpectGet("k").SetErr(down)
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok, "transport failure degrades to miss")
	}

	// Breaker is open now: no expectations are queued, so any Redis call
	// would fail the mock.
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Set(ctx, "other", []byte("v"))

	got, ok := c.Get(ctx, "other")
	require.True(t, ok, "memory tier keeps serving while Redis is down")
	assert.Equal(t, []byte("v"), got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_JSONRoundTrip(t *testing.T) {
	type event struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	c := New(Options{})
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", event{X: 31.5, Y: 2.2}))

	var got event
	require.True(t, c.GetJSON(ctx, "k", &got))
	assert.Equal(t, event{X: 31.5, Y: 2.2}, got)

	var missed event
	assert.False(t, c.GetJSON(ctx, "absent", &missed))
}

func TestCache_GetJSONRejectsCorruptPayload(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("{not json"))
	var dest map[string]any
	assert.False(t, c.GetJSON(ctx, "k", &dest), "undecodable payload reads as a miss")
}

func TestCache_RecordsTierMetrics(t *testing.T) {
	m := metrics.New()
	c := New(Options{Metrics: m})
	ctx := context.Background()

	_, _ = c.Get(ctx, "k")
	c.Set(ctx, "k", []byte("v"))
	_, _ = c.Get(ctx, "k")

	var dto io_prometheus_client.Metric
	ratio := func() float64 {
		require.NoError(t, m.CacheHitRatio.Write(&dto))
		return dto.GetGauge().GetValue()
	}
	assert.InDelta(t, 0.5, ratio(), 1e-12, "one memory miss and one memory hit")
}
