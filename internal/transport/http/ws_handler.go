package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/domain"
)

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
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

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// attachPayload carries the file inline; Content is base64 in JSON.
type attachPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type ackPayload struct {
	Command string `json:"command"`
}

// ServeWS upgrades HTTP requests to websockets and attaches the renderer to
// the learner's attempt session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.service.Open(r.Context(), quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel := session.Subscribe()
	defer h.service.Release(quizID, userID)
	defer cancel()

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})
	var inflight sync.WaitGroup

	emit := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-closeSignals:
		}
	}
	fail := func(err error) {
		emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// The view goes out before any event so the renderer starts from a
	// consistent snapshot.
	send <- outboundMessage[any]{Type: "session", Payload: session.View()}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// Submissions outlive the connection; they must not be tied to it.
	submitCtx := context.WithoutCancel(r.Context())

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			if err := session.SetAnswer(payload.QuestionID, payload.Answer); err != nil {
				fail(err)
				continue
			}
			emit(outboundMessage[any]{Type: "ack", Payload: ackPayload{Command: inbound.Type}})
		case "clear":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid clear payload"}})
				continue
			}
			if err := session.ClearAnswer(payload.QuestionID); err != nil {
				fail(err)
				continue
			}
			emit(outboundMessage[any]{Type: "ack", Payload: ackPayload{Command: inbound.Type}})
		case "attach":
			var payload attachPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Filename == "" {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid attach payload"}})
				continue
			}
			err := session.StageAttachment(domain.Attachment{
				Filename:    payload.Filename,
				ContentType: payload.ContentType,
				Content:     payload.Content,
			})
			if err != nil {
				fail(err)
				continue
			}
			emit(outboundMessage[any]{Type: "ack", Payload: ackPayload{Command: inbound.Type}})
		case "detach":
			if err := session.RemoveAttachment(); err != nil {
				fail(err)
				continue
			}
			emit(outboundMessage[any]{Type: "ack", Payload: ackPayload{Command: inbound.Type}})
		case "submit", "confirm":
			confirm := inbound.Type == "confirm"
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				var err error
				if confirm {
					_, err = session.Confirm(submitCtx)
				} else {
					_, err = session.Submit(submitCtx)
				}
				if err != nil && reportable(err) {
					fail(err)
				}
			}()
		case "cancel":
			if err := session.CancelConfirm(); err != nil {
				fail(err)
			}
		case "view":
			emit(outboundMessage[any]{Type: "session", Payload: session.View()})
		default:
			emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	inflight.Wait()
	close(send)
	<-writerDone
}

// reportable picks the submit errors sent back as an error message. Others
// reach the renderer through state and outcome events.
func reportable(err error) bool {
	return errors.Is(err, domain.ErrAttachmentRequired) || errors.Is(err, domain.ErrNotConfirming)
}
