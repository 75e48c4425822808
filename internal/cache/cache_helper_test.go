package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, prefix string) (*miniredis.Miniredis, *CacheHelper) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewCacheHelper(client, prefix)
}

type cachedQuiz struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func TestCacheHelperRoundTrip(t *testing.T) {
	mr, helper := newTestCache(t, "quiz:")
	ctx := context.Background()

	value := cachedQuiz{ID: 7, Title: "Midterm"}
	if err := helper.Set(ctx, "id:7", value, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !mr.Exists("quiz:id:7") {
		t.Error("stored key missing expected prefix")
	}

	var got cachedQuiz
	if err := helper.Get(ctx, "id:7", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != value {
		t.Errorf("Get() = %+v, want %+v", got, value)
	}

	if err := helper.Delete(ctx, "id:7"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := helper.Get(ctx, "id:7", &got); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperMiss(t *testing.T) {
	_, helper := newTestCache(t, "quiz:")

	var got cachedQuiz
	if err := helper.Get(context.Background(), "id:404", &got); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("Get() error = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperNilClient(t *testing.T) {
	helper := NewCacheHelper(nil, "quiz:")
	ctx := context.Background()

	if err := helper.Set(ctx, "id:1", cachedQuiz{ID: 1}, time.Minute); err != nil {
		t.Errorf("Set() with nil client error = %v, want nil", err)
	}
	var got cachedQuiz
	if err := helper.Get(ctx, "id:1", &got); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Get() with nil client error = %v, want ErrCacheNotAvailable", err)
	}
	if err := helper.Delete(ctx, "id:1"); err != nil {
		t.Errorf("Delete() with nil client error = %v, want nil", err)
	}
}

func TestCacheOrExecute(t *testing.T) {
	t.Run("miss fetches and hit skips", func(t *testing.T) {
		_, helper := newTestCache(t, "quiz:")
		ctx := context.Background()

		fetches := 0
		fetch := func() (interface{}, error) {
			fetches++
			return cachedQuiz{ID: 9, Title: "Fetched"}, nil
		}

		var first cachedQuiz
		if err := helper.CacheOrExecute(ctx, "id:9", &first, time.Minute, fetch); err != nil {
			t.Fatalf("CacheOrExecute() error = %v", err)
		}
		if first.Title != "Fetched" || fetches != 1 {
			t.Errorf("first call = %+v with %d fetches, want fetched value once", first, fetches)
		}

		// The write-behind goroutine populates the cache
		deadline := time.Now().Add(time.Second)
		var second cachedQuiz
		for {
			if err := helper.Get(ctx, "id:9", &second); err == nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("cache never populated after fetch")
			}
			time.Sleep(10 * time.Millisecond)
		}

		if err := helper.CacheOrExecute(ctx, "id:9", &second, time.Minute, fetch); err != nil {
			t.Fatalf("CacheOrExecute() on hit error = %v", err)
		}
		if fetches != 1 {
			t.Errorf("fetches = %d after cache hit, want 1", fetches)
		}
	})

	t.Run("fetch errors propagate", func(t *testing.T) {
		_, helper := newTestCache(t, "quiz:")

		var dest cachedQuiz
		wantErr := errors.New("db down")
		err := helper.CacheOrExecute(context.Background(), "id:1", &dest, time.Minute, func() (interface{}, error) {
			return nil, wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("CacheOrExecute() error = %v, want wrapped %v", err, wantErr)
		}
	})
}

func TestInvalidatePattern(t *testing.T) {
	_, helper := newTestCache(t, "quiz:")
	ctx := context.Background()

	for _, key := range []string{"list:1", "list:2", "id:7"} {
		if err := helper.SetString(ctx, key, "x", time.Minute); err != nil {
			t.Fatalf("SetString(%s) error = %v", key, err)
		}
	}

	if err := helper.InvalidatePattern(ctx, "list:*"); err != nil {
		t.Fatalf("InvalidatePattern() error = %v", err)
	}

	for _, key := range []string{"list:1", "list:2"} {
		if ok, _ := helper.Exists(ctx, key); ok {
			t.Errorf("key %s survived pattern invalidation", key)
		}
	}
	if ok, _ := helper.Exists(ctx, "id:7"); !ok {
		t.Error("unrelated key was invalidated")
	}
}

func TestCacheManager(t *testing.T) {
	t.Run("prefixes are isolated", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		cm := NewCacheManager(client)
		ctx := context.Background()

		if err := cm.Quiz.SetString(ctx, "id:1", "quiz", time.Minute); err != nil {
			t.Fatalf("SetString() error = %v", err)
		}
		if err := cm.Question.SetString(ctx, "id:1", "question", time.Minute); err != nil {
			t.Fatalf("SetString() error = %v", err)
		}

		quizVal, _ := cm.Quiz.GetString(ctx, "id:1")
		questionVal, _ := cm.Question.GetString(ctx, "id:1")
		if quizVal != "quiz" || questionVal != "question" {
			t.Errorf("values = %q/%q, want isolated per prefix", quizVal, questionVal)
		}

		if err := cm.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})

	t.Run("nil client degrades", func(t *testing.T) {
		cm := NewCacheManager(nil)
		if err := cm.HealthCheck(context.Background()); !errors.Is(err, ErrCacheNotAvailable) {
			t.Errorf("HealthCheck() error = %v, want ErrCacheNotAvailable", err)
		}
	})
}

func TestInvalidateQuizCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cm := NewCacheManager(client)
	ctx := context.Background()

	cm.Quiz.SetString(ctx, "id:3", "x", time.Minute)
	cm.Quiz.SetString(ctx, "details:3", "x", time.Minute)
	cm.Quiz.SetString(ctx, "creator:teacher-1:p1", "x", time.Minute)
	cm.Quiz.SetString(ctx, "list:p1", "x", time.Minute)
	cm.Quiz.SetString(ctx, "id:4", "survivor", time.Minute)

	InvalidateQuizCache(ctx, cm, 3, "teacher-1")

	for _, key := range []string{"id:3", "details:3", "creator:teacher-1:p1", "list:p1"} {
		if ok, _ := cm.Quiz.Exists(ctx, key); ok {
			t.Errorf("key %s survived quiz invalidation", key)
		}
	}
	if ok, _ := cm.Quiz.Exists(ctx, "id:4"); !ok {
		t.Error("other quiz's cache entry was invalidated")
	}
}
