package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// Subscriber attaches a consumer to a bus topic. Binding a consumer is what keeps
// the idle reaper from closing the session.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error)
}

type WSHandler struct {
	participants *app.ParticipantService
	bus          Subscriber
	log          logrus.FieldLogger
	upgrader     websocket.Upgrader
}

func NewWSHandler(participants *app.ParticipantService, bus Subscriber, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		participants: participants,
		bus:          bus,
		log:          log,
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

type responsePayload struct {
	Value      domain.ResponseValue `json:"value"`
	Confidence *int                 `json:"confidence"`
}

type responseResult struct {
	Verdict string `json:"verdict"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request, streams the events of the quiz topic to the client
// and, when a member name is given, joins (or readmits) that member and accepts its
// responses. The subscription comes first so a failed subscribe leaves no member behind.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizName := r.URL.Query().Get("quiz")
	memberName := r.URL.Query().Get("member")
	groupName := r.URL.Query().Get("group")
	if quizName == "" {
		http.Error(w, "missing quiz", http.StatusBadRequest)
		return
	}
	log := h.log.WithFields(logrus.Fields{"quiz": quizName, "member": memberName})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, cancel, err := h.bus.Subscribe(ctx, domain.QuizTopic(quizName))
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err.Error()))
		return
	}
	defer cancel()

	var joined *domain.Member
	greeting := outboundMessage[any]{Type: "subscribed", Payload: map[string]string{"quiz": quizName}}
	if memberName != "" {
		member, rejoined, err := h.admit(ctx, quizName, memberName, groupName)
		if err != nil {
			_ = conn.WriteJSON(errorMessage(err.Error()))
			return
		}
		greeting = outboundMessage[any]{Type: "joined", Payload: &member}
		if rejoined {
			log.Info("member reconnected")
			greeting.Type = "rejoined"
		}
		joined = &member
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Only the writer goroutine touches conn for writing.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: event}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	push(greeting)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if joined == nil {
			push(errorMessage("join with a member name to send messages"))
			continue
		}
		switch inbound.Type {
		case "response":
			var payload responsePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorMessage("invalid response payload"))
				continue
			}
			confidence := domain.NoConfidence
			if payload.Confidence != nil {
				confidence = *payload.Confidence
			}
			verdict, err := h.participants.Respond(ctx, quizName, joined.Name, payload.Value, confidence)
			if err != nil {
				push(errorMessage(err.Error()))
				continue
			}
			push(outboundMessage[any]{Type: "responseResult", Payload: responseResult{Verdict: verdict.String()}})
		case "readingConfirmation":
			if err := h.participants.ConfirmReading(ctx, quizName, joined.Name); err != nil {
				push(errorMessage(err.Error()))
				continue
			}
			push(outboundMessage[any]{Type: "readingConfirmed", Payload: struct{}{}})
		default:
			push(errorMessage("unsupported message type"))
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// admit joins a new member or, when the name is already taken in the session,
// resumes the existing member after a dropped connection.
func (h *WSHandler) admit(ctx context.Context, quizName, memberName, groupName string) (domain.Member, bool, error) {
	member, err := h.participants.Join(ctx, quizName, memberName, groupName)
	if errors.Is(err, domain.ErrDuplicate) {
		member, err = h.participants.Rejoin(ctx, quizName, memberName)
		return member, true, err
	}
	return member, false, err
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
