package model

import "time"

type ApprovalStatus string

const (
	ApprovalProposed  ApprovalStatus = "proposed"
	ApprovalAwaiting  ApprovalStatus = "awaiting_approval"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalEdited    ApprovalStatus = "edited"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalSent      ApprovalStatus = "sent"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// Terminal reports whether a status admits no further transition.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalSent, ApprovalCancelled, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalProposed: {ApprovalAwaiting, ApprovalExpired, ApprovalCancelled},
	ApprovalAwaiting: {ApprovalApproved, ApprovalEdited, ApprovalRejected, ApprovalExpired},
	ApprovalApproved: {ApprovalSent, ApprovalCancelled},
	ApprovalEdited:   {ApprovalSent, ApprovalCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Terminal states have no outgoing edges.
func CanTransition(from, to ApprovalStatus) bool {
	for _, next := range approvalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApprovalRequest is an AI-drafted follow-up awaiting human sign-off before
// it reaches the lead.
type ApprovalRequest struct {
	ID           string         `json:"id"`
	LeadID       string         `json:"lead_id"`
	LeadName     string         `json:"lead_name"`
	ApproverID   string         `json:"approver_id"`
	Category     string         `json:"category"`
	Reason       string         `json:"reason,omitempty"`
	ProposedText string         `json:"proposed_text"`
	FinalText    string         `json:"final_text,omitempty"`
	RejectReason string         `json:"reject_reason,omitempty"`
	Status       ApprovalStatus `json:"status"`

	CreatedAt        time.Time  `json:"created_at"`
	SentToApproverAt *time.Time `json:"sent_to_approver_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`
}

// DeliveryText is what actually goes to the lead: the approver's edited
// version when present, the drafted text otherwise.
func (r *ApprovalRequest) DeliveryText() string {
	if r.FinalText != "" {
		return r.FinalText
	}
	return r.ProposedText
}
