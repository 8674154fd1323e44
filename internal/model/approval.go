package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalDecision is the human verdict on a mutating step.
type ApprovalDecision string

const (
	ApprovalGranted  ApprovalDecision = "granted"
	ApprovalRejected ApprovalDecision = "rejected"
)

// Approval grants a specific mutating step permission to execute.
//
// The step-up token itself is never stored; TokenHash holds an Argon2id
// hash so a database leak cannot replay approvals. A token is valid only
// before ExpiresAt and only for the (run, step) pair it was issued for.
type Approval struct {
	ID         uuid.UUID        `json:"id"`
	RunID      uuid.UUID        `json:"run_id"`
	StepIndex  int              `json:"step_index"`
	ApproverID string           `json:"approver_id"`
	Decision   ApprovalDecision `json:"decision"`
	TokenHash  string           `json:"-"`
	ExpiresAt  time.Time        `json:"expires_at"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Expired reports whether the approval is past its expiry at now.
func (a Approval) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
