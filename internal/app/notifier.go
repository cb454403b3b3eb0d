package app

import (
	"sync"
	"time"

	"assessment-engine/internal/domain"
)

// NoticeKind says what kind of award a notice carries.
type NoticeKind string

const (
	NoticeChallengeCompleted NoticeKind = "challengeCompleted"
	NoticeCertificateIssued  NoticeKind = "certificateIssued"
)

// AwardNotice is pushed to subscribers when something is awarded.
type AwardNotice struct {
	Kind             NoticeKind            `json:"kind"`
	UserID           string                `json:"userId"`
	ChallengeID      string                `json:"challengeId,omitempty"`
	Points           int                   `json:"points,omitempty"`
	TotalPoints      int                   `json:"totalPoints,omitempty"`
	Credential       domain.CredentialKind `json:"credential,omitempty"`
	Scope            *domain.Scope         `json:"scope,omitempty"`
	VerificationCode string                `json:"verificationCode,omitempty"`
	At               time.Time             `json:"at"`
}

// Notifier fans award notices out to listeners.
type Notifier interface {
	Publish(notice AwardNotice)
}

// NotificationHub keeps per-user subscriber channels in memory.
type NotificationHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan AwardNotice]struct{}
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{subscribers: make(map[string]map[chan AwardNotice]struct{})}
}

// Subscribe returns a channel of notices for userID.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *NotificationHub) Subscribe(userID string) (<-chan AwardNotice, func()) {
	ch := make(chan AwardNotice, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan AwardNotice]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[userID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel
}

// Publish delivers without blocking; a full subscriber loses its oldest notice.
func (h *NotificationHub) Publish(notice AwardNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[notice.UserID] {
		select {
		case ch <- notice:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- notice
		}
	}
}

// Subscribers reports how many listeners userID has.
func (h *NotificationHub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

type nopNotifier struct{}

func (nopNotifier) Publish(AwardNotice) {}
