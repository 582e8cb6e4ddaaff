package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trainingquiz/internal/domain"
)

type countingLoader struct {
	inner GameLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadGame(ctx context.Context, gameID string) (domain.Game, error) {
	l.calls.Add(1)
	return l.inner.LoadGame(ctx, gameID)
}

func TestGameRepositoryCachesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{inner: NewStaticGameLoader(map[string]domain.Game{
		"g1": {ID: "g1", Kind: domain.GameKindQuiz},
	})}
	repo := NewGameRepository(loader, time.Minute)

	now := time.Now()
	repo.clock = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		game, err := repo.GetGame(ctx, "g1")
		if err != nil {
			t.Fatalf("get game: %v", err)
		}
		if game.ID != "g1" {
			t.Fatalf("wrong game returned: %s", game.ID)
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}

	// Past the TTL (plus its jitter allowance) the entry is reloaded.
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetGame(ctx, "g1"); err != nil {
		t.Fatalf("get game after expiry: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected a reload after expiry, got %d loads", got)
	}
}

func TestGameRepositorySingleflightOnColdKey(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{inner: NewStaticGameLoader(map[string]domain.Game{
		"g1": {ID: "g1"},
	})}
	repo := NewGameRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetGame(ctx, "g1"); err != nil {
				t.Errorf("get game: %v", err)
			}
		}()
	}
	wg.Wait()

	// Concurrent cold reads may race past the cache check before the first
	// fill lands, but singleflight keeps the loads far below the fan-in.
	if got := loader.calls.Load(); got > 2 {
		t.Fatalf("expected collapsed loads, got %d", got)
	}
}

func TestGameRepositoryConcurrentColdKeys(t *testing.T) {
	ctx := context.Background()
	games := make(map[string]domain.Game, 8)
	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id := "g" + string(rune('1'+i))
		games[id] = domain.Game{ID: id}
		ids = append(ids, id)
	}
	repo := NewGameRepository(&countingLoader{inner: NewStaticGameLoader(games)}, time.Minute)

	// Distinct keys fill in parallel; singleflight does not serialize
	// across them, so the shared jitter source is hit concurrently.
	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				game, err := repo.GetGame(ctx, id)
				if err != nil {
					t.Errorf("get game %s: %v", id, err)
					return
				}
				if game.ID != id {
					t.Errorf("wrong game for %s: %s", id, game.ID)
				}
			}(id)
		}
	}
	wg.Wait()
}

func TestGameRepositoryUnknownGame(t *testing.T) {
	repo := NewGameRepository(NewStaticGameLoader(nil), time.Minute)
	if _, err := repo.GetGame(context.Background(), "nope"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}
