package model

import "time"

type MessageType string

const (
	TypeBriefing      MessageType = "briefing"
	TypeRecap         MessageType = "recap"
	TypeDailySummary  MessageType = "daily_summary"
	TypeWeeklySummary MessageType = "weekly_summary"
	TypeAlert         MessageType = "alert"
	TypeNotification  MessageType = "notification"
)

type PendingStatus string

const (
	PendingQueued    PendingStatus = "queued"
	PendingDelivered PendingStatus = "delivered"
	PendingExpired   PendingStatus = "expired"
)

// PendingMessage is content queued behind a session-reopening template,
// waiting for the recipient's next inbound message.
type PendingMessage struct {
	ID          string        `json:"id"`
	RecipientID string        `json:"recipient_id"`
	Type        MessageType   `json:"message_type"`
	Payload     string        `json:"payload"`
	Status      PendingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`

	// CallDate holds the local calendar day (YYYY-MM-DD) of the last
	// escalation call for this message, empty if none.
	CallDate string `json:"call_date,omitempty"`
}

func (m *PendingMessage) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// TypeConfig is the per-type delivery policy. TTL bounds how long a queued
// message stays deliverable, Priority orders flushes (lower first).
type TypeConfig struct {
	TTL         time.Duration
	Priority    int
	Escalatable bool
	Template    string
}

var typeConfigs = map[MessageType]TypeConfig{
	TypeBriefing:      {TTL: 18 * time.Hour, Priority: 1, Escalatable: true, Template: "reactivar_equipo"},
	TypeRecap:         {TTL: 18 * time.Hour, Priority: 2, Escalatable: false, Template: "reactivar_equipo"},
	TypeDailySummary:  {TTL: 24 * time.Hour, Priority: 2, Escalatable: false, Template: "reactivar_equipo"},
	TypeWeeklySummary: {TTL: 72 * time.Hour, Priority: 3, Escalatable: false, Template: "reactivar_equipo"},
	TypeAlert:         {TTL: 6 * time.Hour, Priority: 1, Escalatable: true, Template: "reactivar_equipo"},
	TypeNotification:  {TTL: 48 * time.Hour, Priority: 3, Escalatable: false, Template: "reactivar_equipo"},
}

// ConfigFor returns the delivery policy for a message type. Unknown types get
// the notification policy, the least urgent one.
func ConfigFor(t MessageType) TypeConfig {
	if cfg, ok := typeConfigs[t]; ok {
		return cfg
	}
	return typeConfigs[TypeNotification]
}

func KnownType(t MessageType) bool {
	_, ok := typeConfigs[t]
	return ok
}
