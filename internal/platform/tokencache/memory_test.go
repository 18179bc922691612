package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingFetcher issues "token-N" on the Nth call.
type countingFetcher struct {
	calls     atomic.Int32
	err       error
	expiresIn time.Duration
	delay     time.Duration
}

func (f *countingFetcher) Fetch(context.Context) (Token, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{AccessToken: fmt.Sprintf("token-%d", n), ExpiresIn: f.expiresIn}, nil
}

func TestMemoryCache_CachesToken(t *testing.T) {
	f := &countingFetcher{}
	c := NewMemoryCache(f, time.Hour)
	ctx := context.Background()

	first, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	second, err := c.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if first != second {
		t.Errorf("expected cached token, got %s then %s", first, second)
	}
	if f.calls.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.calls.Load())
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	f := &countingFetcher{}
	c := NewMemoryCache(f, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	tok, err := c.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "token-2" {
		t.Errorf("expected refetch after expiry, got %s", tok)
	}
}

func TestMemoryCache_Invalidate(t *testing.T) {
	f := &countingFetcher{}
	c := NewMemoryCache(f, time.Hour)
	ctx := context.Background()

	c.Token(ctx)
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	tok, _ := c.Token(ctx)
	if tok != "token-2" {
		t.Errorf("expected new token after invalidate, got %s", tok)
	}
}

func TestMemoryCache_FetchError(t *testing.T) {
	f := &countingFetcher{err: errors.New("issuer down")}
	c := NewMemoryCache(f, time.Hour)

	if _, err := c.Token(context.Background()); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

func TestMemoryCache_ConcurrentMissesShareFetch(t *testing.T) {
	f := &countingFetcher{delay: 50 * time.Millisecond}
	c := NewMemoryCache(f, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Token(context.Background()); err != nil {
				t.Errorf("Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Errorf("expected concurrent misses to share 1 fetch, got %d", got)
	}
}
