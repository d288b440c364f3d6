package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
)

// Recipient is a person the engine can message. The engine owns only the
// State sub-document; everything else belongs to the CRM.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`

	State   RecipientState `json:"state"`
	Version int64          `json:"-"`
}

// RecipientState is the engine-owned sub-document persisted on the recipient.
// All mutation goes through the store's merge primitive; several sweeps and
// inbound handlers can race on the same recipient.
type RecipientState struct {
	LastInboundAt *time.Time                      `json:"last_inbound_at,omitempty"`
	Pending       map[MessageType]*PendingMessage `json:"pending_messages,omitempty"`
	Approval      *ApprovalRequest                `json:"approval_context,omitempty"`
	CallAttempts  []CallAttempt                   `json:"call_attempts,omitempty"`
}

// CallAttempt records one escalation voice call. At most one attempt exists
// per (recipient, message type, local calendar day).
type CallAttempt struct {
	RecipientID string      `json:"recipient_id"`
	Type        MessageType `json:"message_type"`
	Date        string      `json:"date"`
	Attempted   bool        `json:"attempted"`
	Outcome     string      `json:"outcome,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func (s *RecipientState) PendingByType(t MessageType) *PendingMessage {
	if s.Pending == nil {
		return nil
	}
	return s.Pending[t]
}

func (s *RecipientState) PutPending(m *PendingMessage) {
	if s.Pending == nil {
		s.Pending = make(map[MessageType]*PendingMessage)
	}
	s.Pending[m.Type] = m
}

func (s *RecipientState) RemovePending(t MessageType) {
	delete(s.Pending, t)
	if len(s.Pending) == 0 {
		s.Pending = nil
	}
}
