package http

import (
	"encoding/json"
	"net/http"
	"time"

	"assessment-engine/internal/app"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Subscriber hands out per-user award notice streams.
type Subscriber interface {
	Subscribe(userID string) (<-chan app.AwardNotice, func())
}

// WSHandler streams award notices to a connected learner.
type WSHandler struct {
	hub      Subscriber
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub Subscriber, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		hub: hub,
		log: log,
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

type subscribedPayload struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// ServeWS upgrades the request and forwards the user's award notices until the client leaves.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	notices, cancel := h.hub.Subscribe(userID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithField("user_id", userID).WithError(err).Debug("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(forwardDone)
		for {
			select {
			case notice, ok := <-notices:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(notice.Kind), Payload: notice}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "subscribed", Payload: subscribedPayload{UserID: userID, At: time.Now().UTC()}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ping":
			send <- outboundMessage[any]{Type: "pong", Payload: struct{}{}}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-forwardDone
	close(send)
	<-writerDone
}
