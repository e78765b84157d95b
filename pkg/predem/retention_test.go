package predem

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/predem/internal/adapters/fs"
	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/pkg/log"
)

func TestRetention_DropsOldestTelemetryKeepsCrashes(t *testing.T) {
	store, err := fs.Open(t.TempDir(), fs.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	payload := make([]byte, 1000)
	crashID, err := store.Append(ctx, domain.KindCrashReport, "", payload)
	require.NoError(t, err)
	var events []domain.RecordID
	for range 9 {
		id, err := store.Append(ctx, domain.KindNetworkEvent, "", payload)
		require.NoError(t, err)
		events = append(events, id)
	}

	var reported []domain.Record
	r := newRetentionRunner(RetentionConfig{HighWatermark: 8000, LowWatermark: 5000}, store,
		func(rec domain.Record) { reported = append(reported, rec) }, log.NewNoopLogger())
	assert.Equal(t, 5, r.runOnce(ctx))

	require.Len(t, reported, 5)
	for i, rec := range reported {
		assert.Equal(t, events[i], rec.ID)
		assert.Equal(t, domain.StateAbandoned, rec.State)
	}

	pending, err := store.ListPending(ctx, 0)
	require.NoError(t, err)
	var ids []domain.RecordID
	for _, rec := range pending {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, append([]domain.RecordID{crashID}, events[5:]...), ids)
	assert.LessOrEqual(t, store.Stats().Bytes, int64(5000))
}

func TestRetention_BelowHighWatermarkIsNoop(t *testing.T) {
	store, err := fs.Open(t.TempDir(), fs.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for i := range 3 {
		_, err := store.Append(ctx, domain.KindUserEvent, "", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	r := newRetentionRunner(RetentionConfig{HighWatermark: 1 << 20, LowWatermark: 1}, store, nil, log.NewNoopLogger())
	assert.Zero(t, r.runOnce(ctx))
	assert.Equal(t, 3, store.Stats().Pending)
}

func TestWithRetentionConfig_Defaults(t *testing.T) {
	var o options
	WithRetentionConfig(RetentionConfig{Enabled: true, HighWatermark: 1000, LowWatermark: 2000})(&o)
	require.NotNil(t, o.retentionConfig)
	assert.Equal(t, int64(750), o.retentionConfig.LowWatermark)
	assert.Equal(t, defaultRetentionInterval, o.retentionConfig.CheckInterval)

	o = options{}
	WithRetentionConfig(RetentionConfig{})(&o)
	assert.Nil(t, o.retentionConfig)
}
