package domain

import "time"

// KycStatus is the identity-verification state of an account.
type KycStatus string

const (
	KycNotStarted    KycStatus = "NOT_STARTED"
	KycInProgress    KycStatus = "IN_PROGRESS"
	KycPendingReview KycStatus = "PENDING_REVIEW"
	KycApproved      KycStatus = "APPROVED"
	KycRejected      KycStatus = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s KycStatus) Valid() bool {
	switch s {
	case KycNotStarted, KycInProgress, KycPendingReview, KycApproved, KycRejected:
		return true
	}
	return false
}

// KycRecord is the persisted verification state of one account.
type KycRecord struct {
	Account   string    `json:"account"`
	Status    KycStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
