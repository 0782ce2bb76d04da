package services

import (
	"context"
	"fmt"

	"gate-admission/models"
	"gate-admission/utils"

	pubnub "github.com/pubnub/go"
)

const (
	NotificationStatus   = "gate_queue_status"
	NotificationPosition = "gate_queue_position"
)

// GateNotification is a realtime update for one queue member.
type GateNotification struct {
	Type               string                 `json:"type"`
	UserID             string                 `json:"-"`
	EventID            string                 `json:"event_id"`
	GateID             string                 `json:"gate_id"`
	EntryID            string                 `json:"entry_id"`
	Status             models.GateEntryStatus `json:"status"`
	Position           int                    `json:"position,omitempty"`
	EstimatedWaitUnits int                    `json:"estimated_wait_units"`
	Message            string                 `json:"message,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, notification GateNotification) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, GateNotification) error { return nil }

// ChannelPublisher publishes a message on a realtime channel.
type ChannelPublisher interface {
	Publish(channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func (p pubnubPublisher) Publish(channel string, message any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

// PubNubNotifier pushes queue updates to the member's user-<id> channel.
// Publishing goes through a circuit breaker so a PubNub outage does not slow
// down every queue operation.
type PubNubNotifier struct {
	publisher ChannelPublisher
	breaker   *utils.CircuitBreaker
}

func NewPubNubNotifier(pn *pubnub.PubNub, breaker *utils.CircuitBreaker) *PubNubNotifier {
	return NewChannelNotifier(pubnubPublisher{pn: pn}, breaker)
}

func NewChannelNotifier(publisher ChannelPublisher, breaker *utils.CircuitBreaker) *PubNubNotifier {
	if breaker == nil {
		breaker = utils.NewCircuitBreaker("pubnub")
	}
	return &PubNubNotifier{publisher: publisher, breaker: breaker}
}

func userChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func (n *PubNubNotifier) Notify(ctx context.Context, notification GateNotification) error {
	return n.breaker.Execute(ctx, func(context.Context) error {
		return n.publisher.Publish(userChannel(notification.UserID), notification)
	})
}
