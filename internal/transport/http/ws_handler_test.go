package http

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"virtual-lab-service/internal/domain"
	"github.com/gorilla/websocket"
)

func TestProfileStreamFlow(t *testing.T) {
	s := newTestStack(t, "ani@std.example.edu")
	_ = s.do(t, http.MethodGet, "/auth/login", nil)

	u := "ws" + s.server.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the current profile first.
	typ, payload := readNext(t, conn)
	if typ != "profile" {
		t.Fatalf("expected profile, got %s", typ)
	}
	var profile *domain.Profile
	_ = json.Unmarshal(payload, &profile)
	if profile == nil || profile.ID != "dev-1" {
		t.Fatalf("expected signed-in profile, got %s", payload)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"challengeId": "1",
			"questionId":  "q1",
			"optionId":    "b",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	_, payload = readUntil(t, conn, "draft")
	var draft domain.DraftAnswerSet
	_ = json.Unmarshal(payload, &draft)
	if draft.Answers["q1"] != "b" {
		t.Fatalf("unexpected draft %s", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "error")

	_ = s.do(t, http.MethodPost, "/auth/logout", nil)
	for {
		_, payload = readUntil(t, conn, "profile")
		if string(payload) == "null" {
			break
		}
	}
}

func readNext(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}

func readUntil(t *testing.T, conn *websocket.Conn, want string) (string, json.RawMessage) {
	t.Helper()
	for i := 0; i < 10; i++ {
		typ, payload := readNext(t, conn)
		if typ == want {
			return typ, payload
		}
	}
	t.Fatalf("no %s message received", want)
	return "", nil
}

func TestEnqueueStopsAfterWriterExit(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	writerDone := make(chan struct{})
	msg := outboundMessage[any]{Type: "draft"}

	if !enqueue(send, writerDone, msg) {
		t.Fatalf("expected message queued while writer runs")
	}

	close(writerDone)
	result := make(chan bool, 1)
	go func() { result <- enqueue(send, writerDone, msg) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("full buffer with no writer must not report success")
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked after writer exit")
	}
}
