package app

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/chain/sim"
	"github.com/alanyoungcy/rwavault/internal/domain"
)

// demoAsset is a listing plus the simulated account's starting holding.
type demoAsset struct {
	terms                    domain.AssetTerms
	balance, staked, rewards int64
}

func demoAssets(now time.Time) []demoAsset {
	d := decimal.NewFromInt
	return []demoAsset{
		{
			terms: domain.AssetTerms{
				AssetID:        "harbour-view-apartments",
				TotalSupply:    d(100_000),
				TokenPrice:     d(50),
				TokensSold:     d(42_000),
				FundingGoal:    d(5_000_000),
				IsActive:       true,
				MaturityDate:   now.AddDate(2, 0, 0),
				DiscountRate:   d(15),
				RedemptionRate: d(110),
			},
			balance: 1000, staked: 250, rewards: 12,
		},
		{
			terms: domain.AssetTerms{
				AssetID:        "elm-street-retail",
				TotalSupply:    d(40_000),
				TokenPrice:     d(25),
				TokensSold:     d(40_000),
				FundingGoal:    d(1_000_000),
				IsActive:       true,
				MaturityDate:   now.AddDate(0, -1, 0),
				DiscountRate:   d(10),
				RedemptionRate: d(112),
			},
			balance: 500,
		},
		{
			terms: domain.AssetTerms{
				AssetID:        "riverside-logistics",
				TotalSupply:    d(250_000),
				TokenPrice:     d(10),
				TokensSold:     d(5_000),
				FundingGoal:    d(2_500_000),
				IsActive:       false,
				MaturityDate:   now.AddDate(3, 0, 0),
				DiscountRate:   d(20),
				RedemptionRate: d(105),
			},
		},
	}
}

// seedDemo lists the demo assets on l and credits the simulated account.
func seedDemo(l *sim.Ledger, now time.Time) []string {
	assets := demoAssets(now)
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		l.ListAsset(a.terms)
		l.Credit(a.terms.AssetID,
			decimal.NewFromInt(a.balance),
			decimal.NewFromInt(a.staked),
			decimal.NewFromInt(a.rewards))
		ids = append(ids, a.terms.AssetID)
	}
	return ids
}
