package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trainingquiz/internal/app"
	"trainingquiz/internal/domain"
	"trainingquiz/internal/infra/memory"
)

func TestWebSocketSessionFlow(t *testing.T) {
	store := memory.NewDocStore()
	games := memory.NewGameRepository(memory.NewStaticGameLoader(sampleGames()), time.Minute)
	service := app.NewGameService(store, games, nil, zerolog.Nop())
	wsHandler := NewWSHandler(service, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/controller", wsHandler.ServeController)
	mux.HandleFunc("/ws/participant", wsHandler.ServeParticipant)
	server := httptest.NewServer(mux)
	defer server.Close()

	base := "ws" + server.URL[len("http"):]

	ctrlConn, _, err := websocket.DefaultDialer.Dial(base+"/ws/controller?gameId=game-1&duration=120&countdown=1&minParticipants=1", nil)
	if err != nil {
		t.Fatalf("dial controller: %v", err)
	}
	defer ctrlConn.Close()

	// Session announcement arrives first and carries the join code.
	_, payload := readNext(ctrlConn, t, "session")
	joinCode, _ := payload["joinCode"].(string)
	if joinCode == "" {
		t.Fatalf("expected join code in session payload, got %v", payload)
	}

	partConn, _, err := websocket.DefaultDialer.Dial(base+"/ws/participant?code="+joinCode+"&name=Alice", nil)
	if err != nil {
		t.Fatalf("dial participant: %v", err)
	}
	defer partConn.Close()

	msgType, _ := readNext(partConn, t, "")
	if msgType != "joined" {
		t.Fatalf("expected joined, got %s", msgType)
	}

	if err := ctrlConn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}

	// The 1s countdown elapses and the participant's streamed view flips
	// to in progress.
	waitForView(partConn, t, func(p map[string]any) bool {
		state, _ := p["progressState"].(string)
		return state == string(domain.ProgressInProgress)
	})

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"choiceIndex": 1},
	}
	if err := partConn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	for {
		typ, p := readNext(partConn, t, "")
		if typ != "answerResult" {
			continue
		}
		if correct, _ := p["correct"].(bool); !correct {
			t.Fatalf("expected correct answer result, got %v", p)
		}
		if points, _ := p["points"].(float64); points <= 0 {
			t.Fatalf("expected points awarded, got %v", p)
		}
		break
	}

	if err := ctrlConn.WriteJSON(map[string]any{"type": "end"}); err != nil {
		t.Fatalf("write end: %v", err)
	}
	// The completed view is followed by one snapshots message.
	for {
		typ, _ := readNext(ctrlConn, t, "")
		if typ == "snapshots" {
			break
		}
	}
}

func TestControllerRequiresGameID(t *testing.T) {
	store := memory.NewDocStore()
	games := memory.NewGameRepository(memory.NewStaticGameLoader(sampleGames()), time.Minute)
	service := app.NewGameService(store, games, nil, zerolog.Nop())
	wsHandler := NewWSHandler(service, zerolog.Nop())

	server := httptest.NewServer(http.HandlerFunc(wsHandler.ServeController))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without gameId, got %d", resp.StatusCode)
	}
}

func TestParticipantUnknownCodeSendsError(t *testing.T) {
	store := memory.NewDocStore()
	games := memory.NewGameRepository(memory.NewStaticGameLoader(sampleGames()), time.Minute)
	service := app.NewGameService(store, games, nil, zerolog.Nop())
	wsHandler := NewWSHandler(service, zerolog.Nop())

	server := httptest.NewServer(http.HandlerFunc(wsHandler.ServeParticipant))
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "?code=ZZZZZZ&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msgType, _ := readNext(conn, t, "")
	if msgType != "error" {
		t.Fatalf("expected error message, got %s", msgType)
	}
}

// waitForView reads streamed view messages until cond holds.
func waitForView(conn *websocket.Conn, t *testing.T, cond func(map[string]any) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		typ, payload := readNext(conn, t, "")
		if typ == "view" && cond(payload) {
			return
		}
	}
	t.Fatalf("timed out waiting for view condition")
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	// Payloads are objects for every message the assertions inspect; a few
	// message types (e.g. snapshots) carry arrays, which callers discard.
	payload := map[string]any{}
	_ = json.Unmarshal(msg.Payload, &payload)
	return msg.Type, payload
}

func sampleGames() map[string]domain.Game {
	return map[string]domain.Game{
		"game-1": {
			ID:   "game-1",
			Kind: domain.GameKindQuiz,
			Items: []domain.Item{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					BasePoints:       100,
					TimeLimitSeconds: 30,
				},
			},
			TotalDurationSeconds: 120,
		},
	}
}
