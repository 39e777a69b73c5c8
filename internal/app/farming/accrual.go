package farming

import (
	"time"

	"github.com/shopspring/decimal"

	"unifarm-app/config"
	"unifarm-app/internal/model"
)

// rewardPlaces is the ledger precision for computed rewards. Rewards are
// rounded, not truncated, so short intervals keep their sub-cent value.
const rewardPlaces = 8

// Reward computes the interval-model farming income:
//
//	reward = amount * dailyRate * elapsed/24h
//
// The daily rate is a fraction of the deposit per calendar day, spread
// uniformly over the day at nanosecond precision, matching the checkpoint
// resolution so no slice of the interval is dropped between settles.
// Non-positive elapsed yields zero.
func Reward(amount, dailyRate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	return amount.
		Mul(dailyRate).
		Mul(decimal.NewFromInt(elapsed.Nanoseconds())).
		Div(decimal.NewFromInt(int64(24 * time.Hour))).
		Round(rewardPlaces)
}

// Accrue evaluates a deposit at time now under the given effective daily rate
// and returns the owed reward together with the checkpoint to persist.
func Accrue(d model.FarmingDeposit, rate decimal.Decimal, now time.Time) (decimal.Decimal, time.Time) {
	elapsed := now.Sub(d.LastAccrualAt)
	if elapsed <= 0 {
		return decimal.Zero, d.LastAccrualAt
	}
	return Reward(d.Amount, rate, elapsed), now
}

// EffectiveRate is the deposit's daily rate scaled by the user's boost
// multiplier while the boost is active.
func EffectiveRate(d model.FarmingDeposit, u model.User, now time.Time) decimal.Decimal {
	if !u.BoostActive(now) {
		return d.DailyRate
	}
	pkg, ok := boostPackage(*u.BoostID)
	if !ok {
		return d.DailyRate
	}
	return d.DailyRate.Mul(pkg.Multiplier)
}

func boostPackage(id int64) (model.BoostPackage, bool) {
	for _, p := range config.Farm.BoostPackages {
		if p.ID == id {
			return model.BoostPackage{
				ID:         p.ID,
				Name:       p.Name,
				CostTON:    decimal.NewFromFloat(p.CostTON),
				Multiplier: decimal.NewFromFloat(p.Multiplier),
				Days:       p.Days,
			}, true
		}
	}
	return model.BoostPackage{}, false
}
