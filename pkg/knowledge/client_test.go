package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

var testKey = Key{Subject: "default/my-app", Group: "rdt", Target: "default/p99"}

func newRecord(k Key, ts time.Time, static bool) *EffectRecord {
	return &EffectRecord{
		ID:                   uuid.New().String(),
		Subject:              k.Subject,
		Group:                k.Group,
		Target:               k.Target,
		ModelBlob:            []byte{0x92, 0xa3, 'E', 'F', 'B', 0x01, 0x00, 0xff},
		FeatureEncoding:      map[string][]string{"rdt_class": {"COS1", "COS2"}},
		TrainingFeatureOrder: []string{"cpus", "rdt_class"},
		IsStatic:             static,
		Timestamp:            ts,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("parses URL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr()+"/0", "url-instance")
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))

		_, err = NewClientFromURL("http://nope", "x")
		assert.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestInsert(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes hash and index entries", func(t *testing.T) {
		now := time.Now().UTC()
		r := newRecord(testKey, now, false)
		require.NoError(t, client.Insert(ctx, r))

		assert.True(t, mr.Exists(RecordKey("test-instance", r.ID)))

		score, err := mr.ZScore(IndexKey("test-instance", testKey), r.ID)
		require.NoError(t, err)
		assert.Equal(t, TimestampScore(now), score)
		assert.False(t, mr.Exists(StaticIndexKey("test-instance", testKey)))
	})

	t.Run("static records are also indexed as static", func(t *testing.T) {
		r := newRecord(testKey, time.Now().Add(-time.Hour), true)
		require.NoError(t, client.Insert(ctx, r))

		members, err := mr.ZMembers(StaticIndexKey("test-instance", testKey))
		require.NoError(t, err)
		assert.Equal(t, []string{r.ID}, members)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		r := newRecord(testKey, time.Now(), false)
		r.ModelBlob = nil
		err := client.Insert(ctx, r)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid effect record")
		assert.False(t, mr.Exists(RecordKey("test-instance", r.ID)))
	})
}

func TestGetRecord(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round-trips binary blob and metadata", func(t *testing.T) {
		r := newRecord(testKey, time.Unix(1700000000, 123456789).UTC(), true)
		require.NoError(t, client.Insert(ctx, r))

		got, err := client.GetRecord(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	})

	t.Run("missing record", func(t *testing.T) {
		got, err := client.GetRecord(ctx, uuid.New().String())
		assert.Nil(t, got)
		assert.True(t, IsNotFound(err))
	})
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("returns admissible records newest first", func(t *testing.T) {
		client, _ := setupTestClient(t)
		old := newRecord(testKey, now.Add(-time.Hour), false)
		mid := newRecord(testKey, now.Add(-5*time.Minute), false)
		latest := newRecord(testKey, now.Add(-time.Minute), false)
		for _, r := range []*EffectRecord{old, mid, latest} {
			require.NoError(t, client.Insert(ctx, r))
		}

		got, err := client.Find(ctx, Query{Key: testKey, Cutoff: now.Add(-20 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, latest.ID, got[0].ID)
		assert.Equal(t, mid.ID, got[1].ID)
	})

	t.Run("static records ignore the cutoff", func(t *testing.T) {
		client, _ := setupTestClient(t)
		static := newRecord(testKey, now.Add(-48*time.Hour), true)
		require.NoError(t, client.Insert(ctx, static))

		got, err := client.Find(ctx, Query{Key: testKey, Cutoff: now.Add(-20 * time.Minute), Limit: 4})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, static.ID, got[0].ID)
		assert.True(t, got[0].IsStatic)
	})

	t.Run("cutoff is inclusive", func(t *testing.T) {
		client, _ := setupTestClient(t)
		cutoff := now.Add(-20 * time.Minute).Truncate(time.Millisecond)
		edge := newRecord(testKey, cutoff, false)
		require.NoError(t, client.Insert(ctx, edge))

		got, err := client.Find(ctx, Query{Key: testKey, Cutoff: cutoff})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("respects limit", func(t *testing.T) {
		client, _ := setupTestClient(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, client.Insert(ctx, newRecord(testKey, now.Add(-time.Duration(i)*time.Second), false)))
		}

		got, err := client.Find(ctx, Query{Key: testKey, Cutoff: now.Add(-time.Minute), Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
	})

	t.Run("other keys are not returned", func(t *testing.T) {
		client, _ := setupTestClient(t)
		other := testKey
		other.Target = "default/throughput"
		require.NoError(t, client.Insert(ctx, newRecord(other, now, false)))

		got, err := client.Find(ctx, Query{Key: testKey})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("colons in key components do not collide", func(t *testing.T) {
		client, _ := setupTestClient(t)
		a := Key{Subject: "a:b", Group: "rdt", Target: "c"}
		b := Key{Subject: "a", Group: "rdt", Target: "b:c"}
		require.NoError(t, client.Insert(ctx, newRecord(a, now, false)))

		got, err := client.Find(ctx, Query{Key: b})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("skips index entries whose hash is gone", func(t *testing.T) {
		client, mr := setupTestClient(t)
		r := newRecord(testKey, now, false)
		require.NoError(t, client.Insert(ctx, r))
		mr.Del(RecordKey("test-instance", r.ID))

		got, err := client.Find(ctx, Query{Key: testKey})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects incomplete key", func(t *testing.T) {
		client, _ := setupTestClient(t)
		_, err := client.Find(ctx, Query{Key: Key{Group: "rdt"}})
		assert.Error(t, err)
	})

	t.Run("surfaces store errors", func(t *testing.T) {
		client, mr := setupTestClient(t)
		mr.SetError("LOADING server is loading")
		defer mr.SetError("")

		_, err := client.Find(ctx, Query{Key: testKey})
		assert.Error(t, err)
	})
}

func TestListAndScanRecords(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := newRecord(testKey, now.Add(-time.Minute), false)
	second := newRecord(testKey, now, true)
	require.NoError(t, client.Insert(ctx, first))
	require.NoError(t, client.Insert(ctx, second))

	all, err := client.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	ids, err := client.ScanRecords(ctx, first.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids)
}

func TestInstanceNamespacing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "instance-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "instance-b")
	require.NoError(t, err)
	defer b.Close()

	r := newRecord(testKey, time.Now(), false)
	require.NoError(t, a.Insert(ctx, r))

	got, err := b.Find(ctx, Query{Key: testKey})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = b.GetRecord(ctx, r.ID)
	assert.True(t, IsNotFound(err))
}

func TestSubscribeEffectEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("receives insert events", func(t *testing.T) {
		sub, err := client.SubscribeEffectEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		r := newRecord(testKey, time.Now().UTC(), false)
		require.NoError(t, client.Insert(ctx, r))

		select {
		case ev := <-sub.Events():
			assert.Equal(t, r.ID, ev.ID)
			assert.Equal(t, testKey.Group, ev.Group)
			assert.Equal(t, len(r.ModelBlob), ev.BlobSize)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("cleanup on Close", func(t *testing.T) {
		sub, err := client.SubscribeEffectEvents(ctx)
		require.NoError(t, err)
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		sub, err := client.SubscribeEffectEvents(cancelCtx)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}
