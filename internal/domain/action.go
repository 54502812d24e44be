package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType is a user-initiated operation on an asset.
type ActionType string

const (
	ActionBuy     ActionType = "BUY"
	ActionStake   ActionType = "STAKE"
	ActionUnstake ActionType = "UNSTAKE"
	ActionClaim   ActionType = "CLAIM"
	ActionCashOut ActionType = "CASHOUT"
	ActionRedeem  ActionType = "REDEEM"
)

// AllActions lists every mutating action in display order.
var AllActions = []ActionType{ActionBuy, ActionStake, ActionUnstake, ActionClaim, ActionCashOut, ActionRedeem}

// ParseAction accepts the action name in any case, with "cash_out" and
// "early_cashout" as aliases.
func ParseAction(s string) (ActionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "INVEST":
		return ActionBuy, nil
	case "STAKE":
		return ActionStake, nil
	case "UNSTAKE":
		return ActionUnstake, nil
	case "CLAIM", "CLAIM_REWARD":
		return ActionClaim, nil
	case "CASHOUT", "CASH_OUT", "EARLY_CASHOUT":
		return ActionCashOut, nil
	case "REDEEM":
		return ActionRedeem, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrUnknownAction, s)
}

// TakesAmount reports whether the action carries a caller-supplied amount.
func (a ActionType) TakesAmount() bool {
	return a != ActionClaim
}

// NeedsApproval reports whether the registry must be granted an allowance
// before the action is submitted.
func (a ActionType) NeedsApproval() bool {
	return a == ActionStake || a == ActionBuy
}

// ActionState is the lifecycle of a single invocation.
type ActionState string

const (
	StateInputting  ActionState = "INPUTTING"
	StateProcessing ActionState = "PROCESSING"
	StateSuccess    ActionState = "SUCCESS"
	StateFailed     ActionState = "FAILED"
)

// CanTransition reports whether from -> to is a legal edge.
func (s ActionState) CanTransition(to ActionState) bool {
	switch s {
	case StateInputting:
		return to == StateProcessing
	case StateProcessing:
		return to == StateSuccess || to == StateFailed
	case StateFailed:
		return to == StateInputting
	case StateSuccess:
		// A finished invocation is replaced, never moved.
		return false
	}
	return false
}

// Invocation is the ledger's view of the latest attempt of one action on one
// asset.
type Invocation struct {
	ID        string          `json:"id"`
	AssetID   string          `json:"asset_id"`
	Action    ActionType      `json:"action"`
	Amount    decimal.Decimal `json:"amount"`
	State     ActionState     `json:"state"`
	TxID      string          `json:"tx_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at,omitempty"`
}
