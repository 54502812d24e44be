package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidTerms  = errors.New("invalid asset terms")
	ErrAlreadyFinal  = errors.New("transaction already finalized")
)

// Gate errors: the action was refused locally and never reached the chain.
var (
	ErrKycRequired         = errors.New("kyc approval required")
	ErrAssetLocked         = errors.New("asset is locked")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidRate         = errors.New("rate out of range")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInsufficientStaked  = errors.New("insufficient staked balance")
	ErrNotMatured          = errors.New("asset has not reached maturity")
	ErrNothingToClaim      = errors.New("no rewards to claim")
	ErrBelowMinInvestment  = errors.New("amount below minimum investment")
	ErrAboveMaxInvestment  = errors.New("amount above maximum investment")
	ErrActionInProgress    = errors.New("another action is processing for this asset")
)

// External errors: the chain, the wallet or the network refused or lost the call.
var (
	ErrApprovalFailed       = errors.New("token approval failed")
	ErrContractCallRejected = errors.New("contract call rejected")
	ErrNetworkFailure       = errors.New("network failure")
)

var gateErrors = []error{
	ErrKycRequired, ErrAssetLocked, ErrInvalidAmount, ErrInvalidRate,
	ErrInsufficientBalance, ErrInsufficientStaked, ErrNotMatured,
	ErrNothingToClaim, ErrBelowMinInvestment, ErrAboveMaxInvestment,
}

// IsGateError reports whether err is a local eligibility refusal.
func IsGateError(err error) bool {
	for _, g := range gateErrors {
		if errors.Is(err, g) {
			return true
		}
	}
	return false
}

// IsExternalError reports whether err came from the approval step, the
// contract or the transport.
func IsExternalError(err error) bool {
	return errors.Is(err, ErrApprovalFailed) ||
		errors.Is(err, ErrContractCallRejected) ||
		errors.Is(err, ErrNetworkFailure)
}

// FailureKindOf classifies err for the transaction record.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case IsGateError(err):
		return FailureGate
	case errors.Is(err, ErrApprovalFailed):
		return FailureApproval
	default:
		return FailureExternal
	}
}

const genericFailureMessage = "Transaction failed. Please refresh your balances and try again."

// UserMessage is the text shown to the investor. Gate errors are specific;
// external errors share one generic message and keep their cause in logs and
// in Transaction.FailureReason.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrKycRequired):
		return "Complete identity verification before trading this asset."
	case errors.Is(err, ErrActionInProgress):
		return "Another transaction for this asset is still processing."
	case IsGateError(err):
		for _, g := range gateErrors {
			if errors.Is(err, g) {
				return g.Error()
			}
		}
	case errors.Is(err, ErrApprovalFailed):
		return "Token approval was not completed. No tokens were moved."
	}
	return genericFailureMessage
}
