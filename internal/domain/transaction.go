package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the settlement status of a recorded transaction.
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxFailed    TxStatus = "FAILED"
)

// FailureKind separates locally refused actions from ones the chain refused.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureGate     FailureKind = "gate"
	FailureApproval FailureKind = "approval"
	FailureExternal FailureKind = "external"
)

// Transaction is an append-only record of an executed or refused action.
// Only Status, AmountOut, TxHash, ApprovalTxHash, FailureKind, FailureReason
// and UpdatedAt change, and only once, from PENDING to a terminal status.
type Transaction struct {
	ID             string          `json:"id"`
	AssetID        string          `json:"asset_id"`
	Account        string          `json:"account"`
	Type           ActionType      `json:"type"`
	AmountIn       decimal.Decimal `json:"amount_in"`
	AmountOut      decimal.Decimal `json:"amount_out"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         TxStatus        `json:"status"`
	TxHash         string          `json:"tx_hash,omitempty"`
	ApprovalTxHash string          `json:"approval_tx_hash,omitempty"`
	FailureKind    FailureKind     `json:"failure_kind,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsFinal reports whether the transaction has left PENDING.
func (t Transaction) IsFinal() bool {
	return t.Status == TxCompleted || t.Status == TxFailed
}

// TxFinalization carries the terminal fields written when a PENDING
// transaction settles.
type TxFinalization struct {
	Status         TxStatus
	AmountOut      decimal.Decimal
	TxHash         string
	ApprovalTxHash string
	FailureKind    FailureKind
	FailureReason  string
	At             time.Time
}

// Apply returns tx with the finalization written onto it.
func (f TxFinalization) Apply(tx Transaction) Transaction {
	tx.Status = f.Status
	tx.AmountOut = f.AmountOut
	tx.TxHash = f.TxHash
	tx.ApprovalTxHash = f.ApprovalTxHash
	tx.FailureKind = f.FailureKind
	tx.FailureReason = f.FailureReason
	tx.UpdatedAt = f.At
	return tx
}

// TxEvent is published on the event bus whenever a transaction changes.
type TxEvent struct {
	Kind        string      `json:"kind"` // tx_pending, tx_completed, tx_failed
	Transaction Transaction `json:"transaction"`
}

// PortfolioSummary aggregates an account's holdings for the overview page.
type PortfolioSummary struct {
	Account         string          `json:"account"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	TotalTokens     decimal.Decimal `json:"total_tokens"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	TotalRewards    decimal.Decimal `json:"total_rewards"`
	CashOutValue    decimal.Decimal `json:"cash_out_value"`
	RedemptionValue decimal.Decimal `json:"redemption_value"`
	Positions       []AssetPosition `json:"positions"`
}
