package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

type fakeActivityStore struct {
	inserted []interfaces.Activity
	err      error
}

func (f *fakeActivityStore) Insert(_ context.Context, a interfaces.Activity) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, a)
	return nil
}

func TestKeyBucketsByMetricPeriod(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 2, 17, 0, time.UTC)

	k1 := Key(7, 3, base, 5*time.Minute)
	k2 := Key(7, 3, base.Add(2*time.Minute), 5*time.Minute)
	assert.Equal(t, k1, k2, "same bucket must produce the same key")

	k3 := Key(7, 3, base.Add(5*time.Minute), 5*time.Minute)
	assert.NotEqual(t, k1, k3, "next bucket must produce a new key")

	assert.NotEqual(t, Key(7, 3, base, 5*time.Minute), Key(8, 3, base, 5*time.Minute))
	assert.NotEqual(t, Key(7, 3, base, 5*time.Minute), Key(7, 4, base, 5*time.Minute))
}

func TestKeyZeroBucketFallsBack(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 2, 17, 0, time.UTC)

	k1 := Key(7, 3, base, 0)
	k2 := Key(7, 3, base.Add(10*time.Second), 0)
	assert.Equal(t, k1, k2, "zero bucket should still coalesce within a minute")
}

func TestWritePopulatesActivity(t *testing.T) {
	store := &fakeActivityStore{}
	r := New(store)

	rec := Record{
		Policy: interfaces.Policy{
			ID: 7, Name: "web-tier",
			TargetQPSPerInstance: 50,
			MetricPeriod:         5 * time.Minute,
		},
		Decision: interfaces.Decision{
			Action:          interfaces.ActionScaleUp,
			Delta:           1,
			DesiredCapacity: 3,
			MetricValue:     120.5,
		},
		Status:      interfaces.StatusAccepted,
		RequestedAt: time.Date(2025, 6, 1, 12, 2, 17, 0, time.UTC),
		Response:    `{"ScalingActivityId":"sa-1"}`,
		Capacity:    2,
	}

	activity, duplicate, err := r.Write(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.Len(t, store.inserted, 1)

	got := store.inserted[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, activity.ID, got.ID)
	assert.Equal(t, int64(7), got.PolicyID)
	assert.Equal(t, Key(7, 3, rec.RequestedAt, 5*time.Minute), got.ActivityKey)
	assert.Equal(t, interfaces.ActionScaleUp, got.Action)
	assert.Equal(t, interfaces.StatusAccepted, got.Status)
	assert.Equal(t, 120.5, got.EvalQPS)
	assert.Equal(t, 2, got.EvalCapacity)
	assert.Equal(t, 50.0, got.TargetQPS)
}

func TestWriteSkipsAndFailuresDoNotClaimTheActionKey(t *testing.T) {
	store := &fakeActivityStore{}
	r := New(store)

	rec := Record{
		Policy: interfaces.Policy{
			ID: 7, Name: "web-tier",
			MetricPeriod: 5 * time.Minute,
		},
		Decision: interfaces.Decision{
			Action:          interfaces.ActionScaleUp,
			DesiredCapacity: 3,
		},
		RequestedAt: time.Date(2025, 6, 1, 12, 2, 17, 0, time.UTC),
	}
	actionKey := Key(7, 3, rec.RequestedAt, 5*time.Minute)

	rec.Status = interfaces.StatusSkipped
	_, _, err := r.Write(context.Background(), rec)
	require.NoError(t, err)

	rec.Status = interfaces.StatusFailed
	_, _, err = r.Write(context.Background(), rec)
	require.NoError(t, err)

	// The later executed action records under the bare key.
	rec.Status = interfaces.StatusAccepted
	activity, duplicate, err := r.Write(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, actionKey, activity.ActivityKey)

	require.Len(t, store.inserted, 3)
	assert.Equal(t, actionKey+":skipped", store.inserted[0].ActivityKey)
	assert.Equal(t, actionKey+":failed", store.inserted[1].ActivityKey)
}

func TestWriteDuplicateIsBenign(t *testing.T) {
	store := &fakeActivityStore{err: interfaces.ErrDuplicateActivity}
	r := New(store)

	_, duplicate, err := r.Write(context.Background(), Record{
		Policy:      interfaces.Policy{ID: 7, MetricPeriod: time.Minute},
		RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, duplicate)
}

func TestWritePersistenceErrorSurfaces(t *testing.T) {
	store := &fakeActivityStore{err: errors.New("disk full")}
	r := New(store)

	_, _, err := r.Write(context.Background(), Record{
		Policy:      interfaces.Policy{ID: 7, Name: "web-tier", MetricPeriod: time.Minute},
		RequestedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web-tier")
}
