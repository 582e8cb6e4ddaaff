package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"trainingquiz/internal/domain"
	"trainingquiz/internal/infra/memory"
)

type countingLoader struct {
	memory.GameLoader
	calls int
}

func (l *countingLoader) LoadGame(ctx context.Context, gameID string) (domain.Game, error) {
	l.calls++
	return l.GameLoader.LoadGame(ctx, gameID)
}

func sampleGame() domain.Game {
	return domain.Game{
		ID:   "game-1",
		Kind: domain.GameKindQuiz,
		Items: []domain.Item{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				BasePoints: 100,
			},
		},
		TotalDurationSeconds: 120,
	}
}

func TestGameRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		GameLoader: memory.NewStaticGameLoader(map[string]domain.Game{
			"game-1": sampleGame(),
		}),
	}
	repo := NewGameRepository(newClient(mr), loader, time.Minute)

	game, err := repo.GetGame(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if len(game.Items) != 1 || game.Items[0].ID != "q1" {
		t.Fatalf("unexpected game: %+v", game)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	// Second call should hit cache, loader not incremented.
	_, _ = repo.GetGame(context.Background(), "game-1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}

	// Evicted cache entry falls back to the loader again.
	mr.FlushAll()
	if _, err := repo.GetGame(context.Background(), "game-1"); err != nil {
		t.Fatalf("get game after eviction: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after eviction, got %d", loader.calls)
	}
}
