package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trainingquiz/internal/app"
	"trainingquiz/internal/domain"
)

// WSHandler exposes one websocket endpoint per device role: the controller
// endpoint owns the session lifecycle, the participant endpoint drives one
// participant's progression. Views are pushed once per second; both are
// read-derived projections of the shared documents.
type WSHandler struct {
	service  *app.GameService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type sessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
	JoinCode  string `json:"joinCode"`
}

type answerPayload struct {
	ChoiceIndex int     `json:"choiceIndex"`
	Confidence  float64 `json:"confidence"`
	Skip        bool    `json:"skip"`
}

type answerResultPayload struct {
	Points    int  `json:"points"`
	NewStreak int  `json:"newStreak"`
	Breakdown any  `json:"breakdown"`
	Correct   bool `json:"correct"`
}

type markPayload struct {
	Row         int `json:"row"`
	Col         int `json:"col"`
	ChoiceIndex int `json:"choiceIndex"`
}

// ServeController upgrades the controller device connection. It creates
// the session, streams the controller projection once per second and
// applies start/pause/resume/end commands from the socket.
func (h *WSHandler) ServeController(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		http.Error(w, "missing gameId", http.StatusBadRequest)
		return
	}
	opts := app.SessionOptions{
		TotalDurationSeconds: queryInt(r, "duration", 0),
		CountdownSeconds:     queryInt(r, "countdown", 0),
		MinParticipants:      queryInt(r, "minParticipants", 0),
		AllowLateJoin:        r.URL.Query().Get("lateJoin") == "true",
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	controller, err := h.service.CreateSession(ctx, gameID, opts)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	go func() {
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			h.log.Error().Err(err).Msg("controller loop stopped")
		}
	}()

	send := make(chan any, 16)
	writerDone := make(chan struct{})
	go writeLoop(conn, send, writerDone, h.log)

	send <- outboundMessage[sessionCreatedPayload]{Type: "session", Payload: sessionCreatedPayload{
		SessionID: controller.SessionID(),
		JoinCode:  controller.JoinCode(),
	}}

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		snapshotsSent := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				view := controller.View()
				select {
				case send <- outboundMessage[domain.ControllerView]{Type: "view", Payload: view}:
				case <-ctx.Done():
					return
				}
				if view.Phase == domain.PhaseCompleted && !snapshotsSent {
					if snaps, err := controller.Snapshots(ctx); err == nil {
						snapshotsSent = true
						select {
						case send <- outboundMessage[[]domain.Snapshot]{Type: "snapshots", Payload: snaps}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var err error
		switch inbound.Type {
		case "start":
			err = controller.Start(ctx)
		case "pause":
			err = controller.Pause(ctx)
		case "resume":
			err = controller.Resume(ctx)
		case "end":
			err = controller.End(ctx)
		default:
			send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
			continue
		}
		if err != nil {
			send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		}
	}

	cancel()
	<-tickerDone
	close(send)
	<-writerDone
}

// ServeParticipant upgrades a participant device connection, joins it to
// the session behind the join code and streams its projection.
func (h *WSHandler) ServeParticipant(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	name := r.URL.Query().Get("name")
	if code == "" || name == "" {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	participant, err := h.service.Join(ctx, code, name)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	go func() {
		if err := participant.Run(ctx); err != nil && ctx.Err() == nil {
			h.log.Error().Err(err).Msg("participant loop stopped")
		}
	}()

	send := make(chan any, 16)
	writerDone := make(chan struct{})
	go writeLoop(conn, send, writerDone, h.log)

	send <- outboundMessage[domain.ParticipantView]{Type: "joined", Payload: participant.View()}

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if participant.TimedOut() {
					if err := participant.RequestTermination(ctx); err != nil {
						h.log.Warn().Err(err).Msg("request termination")
					}
				}
				select {
				case send <- outboundMessage[domain.ParticipantView]{Type: "view", Payload: participant.View()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			result, err := participant.SubmitAnswer(ctx, payload.ChoiceIndex, payload.Confidence, payload.Skip)
			if err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[answerResultPayload]{Type: "answerResult", Payload: answerResultPayload{
				Points:    result.Points,
				NewStreak: result.NewStreak,
				Breakdown: result.Breakdown,
				Correct:   result.Correct,
			}}
		case "mark":
			var payload markPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid mark payload"}}
				continue
			}
			result, err := participant.AnswerCell(ctx, payload.Row, payload.Col, payload.ChoiceIndex)
			if err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[app.ChallengeResult]{Type: "challengeResult", Payload: result}
		default:
			send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	cancel()
	<-tickerDone
	close(send)
	<-writerDone
}

// writeLoop serializes all writes to one goroutine; gorilla connections do
// not allow concurrent writers.
func writeLoop(conn *websocket.Conn, send <-chan any, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("ws write error")
			return
		}
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
