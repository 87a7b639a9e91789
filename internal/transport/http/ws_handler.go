package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"virtual-lab-service/internal/app"
	"github.com/gorilla/websocket"
)

// ProfileStream pushes profile snapshots to a websocket client and accepts
// draft answers over the same connection.
type ProfileStream struct {
	profiles *app.ProfileStore
	attempts *app.Attempts
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewProfileStream(profiles *app.ProfileStore, attempts *app.Attempts, log *slog.Logger) *ProfileStream {
	if log == nil {
		log = slog.Default()
	}
	return &ProfileStream{
		profiles: profiles,
		attempts: attempts,
		log:      log,
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

type wsAnswerPayload struct {
	ChallengeID string `json:"challengeId"`
	QuestionID  string `json:"questionId"`
	OptionID    string `json:"optionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request. The first message is the current profile
// (null when signed out); later ones follow every publish and sign-out.
func (h *ProfileStream) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.profiles.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections do not support concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snapshot, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "profile", Payload: snapshot}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var msg outboundMessage[any]
		switch inbound.Type {
		case "answer":
			var payload wsAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				msg = outboundMessage[any]{Type: "error", Payload: errorBody{Error: "invalid answer payload"}}
				break
			}
			draft, err := h.attempts.Answer(r.Context(), payload.ChallengeID, payload.QuestionID, payload.OptionID)
			if err != nil {
				msg = outboundMessage[any]{Type: "error", Payload: errorBody{Error: err.Error()}}
				break
			}
			msg = outboundMessage[any]{Type: "draft", Payload: draft}
		default:
			msg = outboundMessage[any]{Type: "error", Payload: errorBody{Error: "unsupported message type"}}
		}
		if !enqueue(send, writerDone, msg) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// enqueue hands msg to the writer, giving up once the writer has exited.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}
