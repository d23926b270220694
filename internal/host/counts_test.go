package host

import (
	"errors"
	"testing"
)

func TestCountCacheComputesOnce(t *testing.T) {
	cc := NewCountCache()
	calls := 0
	compute := func() (int, error) {
		calls++
		return 3, nil
	}

	for i := 0; i < 3; i++ {
		n, err := cc.Count("admin", compute)
		if err != nil || n != 3 {
			t.Fatalf("Count() = %d, %v", n, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
}

func TestCountCacheDoesNotStoreErrors(t *testing.T) {
	cc := NewCountCache()
	_, err := cc.Count("admin", func() (int, error) { return 0, errors.New("index unavailable") })
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := cc.Get("admin"); ok {
		t.Error("failed computation must not be cached")
	}
}

func TestCountCacheInvalidate(t *testing.T) {
	cc := NewCountCache()
	cc.Set("admin", 2)
	cc.Set("editor", 5)

	cc.Invalidate("admin")
	if _, ok := cc.Get("admin"); ok {
		t.Error("admin count should be gone")
	}
	if n, ok := cc.Get("editor"); !ok || n != 5 {
		t.Errorf("editor count = %d, %v", n, ok)
	}

	cc.InvalidateAll()
	if cc.Len() != 0 {
		t.Errorf("Len() = %d after InvalidateAll", cc.Len())
	}
}
