package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/model"
)

type rawPutter func(t *testing.T, key string, raw []byte)

func storesUnderTest(t *testing.T) map[string]struct {
	store Store
	put   rawPutter
} {
	t.Helper()

	mem := NewMemoryStore()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lite, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })

	return map[string]struct {
		store Store
		put   rawPutter
	}{
		"memory": {mem, func(_ *testing.T, key string, raw []byte) { mem.PutRaw(key, raw) }},
		"redis": {NewRedisStore(rdb), func(t *testing.T, key string, raw []byte) {
			if err := mr.Set(key, string(raw)); err != nil {
				t.Fatalf("miniredis set: %v", err)
			}
		}},
		"sqlite": {lite, func(t *testing.T, key string, raw []byte) {
			if _, err := lite.db.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, 0)`, key, raw); err != nil {
				t.Fatalf("sqlite raw insert: %v", err)
			}
		}},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	want := model.QueuedSubmission{
		ExamID:           uuid.New(),
		StudentID:        42,
		Answers:          map[string]string{"q1": "A", "q2": "C"},
		Score:            12.5,
		TimeTakenSeconds: 3600,
		CompletedAt:      time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC).Format(time.RFC3339),
		EnqueuedAtMillis: 1775039400123,
	}

	for name, tc := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			var got model.QueuedSubmission
			found, err := tc.store.Get(ctx, "missing", &got)
			if err != nil || found {
				t.Fatalf("missing key: found=%v err=%v", found, err)
			}

			if err := tc.store.Set(ctx, "sub", want); err != nil {
				t.Fatalf("set: %v", err)
			}
			found, err = tc.store.Get(ctx, "sub", &got)
			if err != nil || !found {
				t.Fatalf("get: found=%v err=%v", found, err)
			}
			if got.ExamID != want.ExamID || got.EnqueuedAtMillis != want.EnqueuedAtMillis ||
				got.CompletedAt != want.CompletedAt || got.Score != want.Score ||
				got.Answers["q2"] != "C" || len(got.Answers) != 2 {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
			}

			if err := tc.store.Remove(ctx, "sub"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			found, _ = tc.store.Get(ctx, "sub", &got)
			if found {
				t.Fatalf("key still present after Remove")
			}
		})
	}
}

func TestStoreCorruptValue(t *testing.T) {
	ctx := context.Background()

	for name, tc := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			tc.put(t, "broken", []byte("{not json"))

			var dst model.ProgressSnapshot
			found, err := tc.store.Get(ctx, "broken", &dst)
			if !found {
				t.Fatalf("corrupt key reported as missing")
			}
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}
