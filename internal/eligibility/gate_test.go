package eligibility

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

var (
	now      = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	maturity = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func position() domain.AssetPosition {
	return domain.AssetPosition{
		AssetID:        "prop-1",
		Balance:        dec("100"),
		StakedBalance:  dec("50"),
		AccruedRewards: dec("3.5"),
		MaturityDate:   maturity,
		DiscountRate:   dec("15"),
		RedemptionRate: dec("110"),
		Terms: domain.AssetTerms{
			FundingGoal: dec("10000"),
			TokenPrice:  dec("10"),
		},
	}
}

func newGate() *Gate {
	return NewGate(Limits{MinInvestment: dec("100"), MaxShare: dec("0.5")})
}

func TestCheckRules(t *testing.T) {
	locked := position()
	locked.IsLocked = true
	noRewards := position()
	noRewards.AccruedRewards = decimal.Zero

	cases := []struct {
		name   string
		action domain.ActionType
		pos    domain.AssetPosition
		kyc    domain.KycStatus
		amount string
		at     time.Time
		want   error
	}{
		{"stake ok", domain.ActionStake, position(), domain.KycApproved, "100", now, nil},
		{"stake over balance", domain.ActionStake, position(), domain.KycApproved, "100.01", now, domain.ErrInsufficientBalance},
		{"unstake ok", domain.ActionUnstake, position(), domain.KycApproved, "50", now, nil},
		{"unstake over staked", domain.ActionUnstake, position(), domain.KycApproved, "51", now, domain.ErrInsufficientStaked},
		{"cashout ok", domain.ActionCashOut, position(), domain.KycApproved, "40", now, nil},
		{"cashout ignores staked tokens", domain.ActionCashOut, position(), domain.KycApproved, "120", now, domain.ErrInsufficientBalance},
		{"redeem before maturity", domain.ActionRedeem, position(), domain.KycApproved, "10", now, domain.ErrNotMatured},
		{"redeem at maturity", domain.ActionRedeem, position(), domain.KycApproved, "10", maturity, nil},
		{"redeem after maturity over balance", domain.ActionRedeem, position(), domain.KycApproved, "101", maturity.Add(time.Hour), domain.ErrInsufficientBalance},
		{"claim ok", domain.ActionClaim, position(), domain.KycApproved, "0", now, nil},
		{"claim nothing", domain.ActionClaim, noRewards, domain.KycApproved, "0", now, domain.ErrNothingToClaim},
		{"buy ok", domain.ActionBuy, position(), domain.KycApproved, "500", now, nil},
		{"buy below minimum", domain.ActionBuy, position(), domain.KycApproved, "99", now, domain.ErrBelowMinInvestment},
		{"buy above half the goal", domain.ActionBuy, position(), domain.KycApproved, "5000.01", now, domain.ErrAboveMaxInvestment},
		{"zero amount", domain.ActionStake, position(), domain.KycApproved, "0", now, domain.ErrInvalidAmount},
		{"negative amount", domain.ActionCashOut, position(), domain.KycApproved, "-1", now, domain.ErrInvalidAmount},
		{"locked", domain.ActionStake, locked, domain.KycApproved, "1", now, domain.ErrAssetLocked},
		{"kyc pending", domain.ActionStake, position(), domain.KycPendingReview, "1", now, domain.ErrKycRequired},
		{"kyc in progress", domain.ActionClaim, position(), domain.KycInProgress, "0", now, domain.ErrKycRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newGate().Check(Request{Action: tc.action, Position: tc.pos, Kyc: tc.kyc, Amount: dec(tc.amount), Now: tc.at})
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRuleOrderFirstFailureWins(t *testing.T) {
	pos := position()
	pos.IsLocked = true
	pos.AccruedRewards = decimal.Zero

	g := newGate()

	// KYC beats lock, amount and balance.
	err := g.Check(Request{Action: domain.ActionStake, Position: pos, Kyc: domain.KycRejected, Amount: dec("-1"), Now: now})
	assert.ErrorIs(t, err, domain.ErrKycRequired)

	// Lock beats a bad amount.
	err = g.Check(Request{Action: domain.ActionStake, Position: pos, Kyc: domain.KycApproved, Amount: dec("0"), Now: now})
	assert.ErrorIs(t, err, domain.ErrAssetLocked)

	// A bad amount beats maturity.
	pos.IsLocked = false
	err = g.Check(Request{Action: domain.ActionRedeem, Position: pos, Kyc: domain.KycApproved, Amount: dec("0"), Now: now})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// Maturity beats balance.
	err = g.Check(Request{Action: domain.ActionRedeem, Position: pos, Kyc: domain.KycApproved, Amount: dec("1000"), Now: now})
	assert.ErrorIs(t, err, domain.ErrNotMatured)
}

// CLAIM pays out whatever has accrued; the requested amount is never
// validated, so a zero or negative value does not refuse it.
func TestClaimIgnoresRequestedAmount(t *testing.T) {
	g := newGate()
	for _, amount := range []string{"0", "-5", "1000000"} {
		err := g.Check(Request{Action: domain.ActionClaim, Position: position(), Kyc: domain.KycApproved, Amount: dec(amount), Now: now})
		assert.NoError(t, err, "amount %s", amount)
	}

	empty := position()
	empty.AccruedRewards = decimal.Zero
	err := g.Check(Request{Action: domain.ActionClaim, Position: empty, Kyc: domain.KycApproved, Amount: dec("-5"), Now: now})
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.NotErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Contains(t, g.Allowed(position(), domain.KycApproved, decimal.Zero, now), domain.ActionClaim)
	assert.False(t, domain.ActionClaim.TakesAmount())
}

func TestMaturityIsMonotonic(t *testing.T) {
	pos := position()
	g := newGate()
	req := Request{Action: domain.ActionRedeem, Position: pos, Kyc: domain.KycApproved, Amount: dec("1")}

	for _, at := range []time.Time{maturity, maturity.Add(time.Second), maturity.AddDate(1, 0, 0)} {
		req.Now = at
		assert.NoError(t, g.Check(req), "at %s", at)
	}
	req.Now = maturity.Add(-time.Nanosecond)
	assert.ErrorIs(t, g.Check(req), domain.ErrNotMatured)
}

func TestAllowed(t *testing.T) {
	got := newGate().Allowed(position(), domain.KycApproved, dec("20"), now)
	assert.ElementsMatch(t, []domain.ActionType{domain.ActionStake, domain.ActionUnstake, domain.ActionClaim, domain.ActionCashOut}, got)

	assert.Empty(t, newGate().Allowed(position(), domain.KycNotStarted, dec("20"), now))
}
