package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/flightsearch/pkg/providers"
)

type backend struct {
	name string
	open func(t *testing.T) Storage
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Storage { return NewMemory() }},
		{"file", func(t *testing.T) Storage {
			st, err := NewFileStorage(t.TempDir())
			require.NoError(t, err)
			return st
		}},
		{"pebble", func(t *testing.T) Storage {
			st, err := NewPebbleStorage(t.TempDir())
			require.NoError(t, err)
			return st
		}},
		{"sqlite", func(t *testing.T) Storage {
			st, err := NewGormStorage("sqlite", filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			require.NoError(t, st.Migrate(context.Background()))
			return st
		}},
		{"postgrespool", func(t *testing.T) Storage {
			dsn := os.Getenv("FLIGHTSEARCH_TEST_PG_DSN")
			if dsn == "" {
				t.Skip("FLIGHTSEARCH_TEST_PG_DSN not set")
			}
			st, err := OpenPostgresPool(context.Background(), dsn)
			require.NoError(t, err)
			require.NoError(t, st.Migrate(context.Background()))
			return st
		}},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, st Storage)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func newRecord(id string) SearchRecord {
	return SearchRecord{
		ID:        id,
		Status:    StatusPending,
		Items:     []providers.Offer{},
		Expected:  2,
		CreatedAt: time.Now().UTC(),
	}
}

// updateWithRetry retries optimistic conflicts the way callers must.
func updateWithRetry(ctx context.Context, st Storage, id string, fn UpdateFunc) (*SearchRecord, error) {
	for {
		rec, err := st.AtomicUpdate(ctx, id, fn)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return rec, err
	}
}

func TestCreateAndGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		id := fmt.Sprintf("rec-%d", time.Now().UnixNano())
		require.NoError(t, st.CreateRecord(ctx, newRecord(id)))

		got, err := st.GetRecord(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, got.ID)
		require.Equal(t, StatusPending, got.Status)
		require.Empty(t, got.Items)

		require.ErrorIs(t, st.CreateRecord(ctx, newRecord(id)), ErrAlreadyExists)
	})
}

func TestNotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		_, err := st.GetRecord(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		called := false
		_, err = st.AtomicUpdate(ctx, "missing", func(*SearchRecord) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrNotFound)
		require.False(t, called)
	})
}

func TestAtomicUpdate_AbortLeavesRecordUntouched(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		id := fmt.Sprintf("abort-%d", time.Now().UnixNano())
		require.NoError(t, st.CreateRecord(ctx, newRecord(id)))

		boom := errors.New("boom")
		_, err := st.AtomicUpdate(ctx, id, func(rec *SearchRecord) error {
			rec.Status = StatusCompleted
			rec.Items = append(rec.Items, providers.NewOffer("KZT", decimal.NewFromInt(1)))
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := st.GetRecord(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusPending, got.Status)
		require.Empty(t, got.Items)
	})
}

func TestAtomicUpdate_NoLostUpdate(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		id := fmt.Sprintf("race-%d", time.Now().UnixNano())
		require.NoError(t, st.CreateRecord(ctx, newRecord(id)))

		const writers = 16
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := updateWithRetry(ctx, st, id, func(rec *SearchRecord) error {
					rec.Items = append(rec.Items, providers.NewOffer("KZT", decimal.NewFromInt(int64(i))))
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		close(start)
		wg.Wait()

		got, err := st.GetRecord(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Items, writers)

		seen := make(map[string]bool, writers)
		for _, o := range got.Items {
			seen[o.Pricing.Total.String()] = true
		}
		require.Len(t, seen, writers)
	})
}

func TestAtomicUpdate_BumpsVersion(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		id := fmt.Sprintf("ver-%d", time.Now().UnixNano())
		require.NoError(t, st.CreateRecord(ctx, newRecord(id)))

		first, err := st.AtomicUpdate(ctx, id, func(rec *SearchRecord) error { return nil })
		require.NoError(t, err)
		second, err := st.AtomicUpdate(ctx, id, func(rec *SearchRecord) error { return nil })
		require.NoError(t, err)
		require.Equal(t, first.Version+1, second.Version)

		got, err := st.GetRecord(ctx, id)
		require.NoError(t, err)
		require.Equal(t, second.Version, got.Version)
	})
}

func TestRateSnapshot_OncePerDay(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		day := "2024-03-15"

		snap, err := st.GetRateSnapshot(ctx, "1999-01-01")
		require.NoError(t, err)
		require.Nil(t, snap)

		payload := []byte(`[{"title":"USD","rate":"450"}]`)
		err = st.SaveRateSnapshot(ctx, RateSnapshot{Day: day, Payload: payload})
		if errors.Is(err, ErrSnapshotExists) {
			t.Skip("day already present in shared database")
		}
		require.NoError(t, err)
		require.ErrorIs(t, st.SaveRateSnapshot(ctx, RateSnapshot{Day: day, Payload: []byte(`[]`)}), ErrSnapshotExists)

		snap, err = st.GetRateSnapshot(ctx, day)
		require.NoError(t, err)
		require.NotNil(t, snap)
		require.JSONEq(t, string(payload), string(snap.Payload))
		require.False(t, snap.FetchedAt.IsZero())
	})
}

func TestUpdateScheduledJob(t *testing.T) {
	eachBackend(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		require.NoError(t, st.UpdateScheduledJob(ctx, "rates_daily", time.Now(), 150*time.Millisecond, false, "feed down"))
		require.NoError(t, st.UpdateScheduledJob(ctx, "rates_daily", time.Now(), 90*time.Millisecond, true, ""))
	})

	m := NewMemory()
	require.NoError(t, m.UpdateScheduledJob(context.Background(), "rates_daily", time.Now(), 2*time.Second, true, ""))
	job, ok := m.ScheduledJob("rates_daily")
	require.True(t, ok)
	require.Equal(t, 1, job.LastSuccess)
	require.Equal(t, int64(2000), job.LastDurationMs)
}

func TestFileStorage_RejectsUnsafeKeys(t *testing.T) {
	st, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	require.Error(t, st.CreateRecord(context.Background(), newRecord("../escape")))
	_, err = st.GetRecord(context.Background(), "../escape")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClone_IsDeep(t *testing.T) {
	rec := newRecord("c1")
	rec.Items = append(rec.Items, providers.NewOffer("USD", decimal.NewFromInt(10)))
	rec.Reports = []ProviderReport{{Provider: "provider_a", Offers: 1}}

	cp := rec.Clone()
	cp.Items[0].Price = &providers.Price{Amount: "4500.00", Currency: "KZT"}
	cp.Reports[0].Offers = 7

	require.Nil(t, rec.Items[0].Price)
	require.Equal(t, 1, rec.Reports[0].Offers)
	require.True(t, cp.Reported("provider_a"))
	require.False(t, cp.Reported("provider_b"))
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, Config{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStorage{}, st)

	st, err = Open(ctx, Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "open.db"), AutoMigrate: true})
	require.NoError(t, err)
	require.NoError(t, st.Ping(ctx))
	require.NoError(t, st.Close())

	_, err = Open(ctx, Config{Driver: "mongo"})
	require.Error(t, err)
}
