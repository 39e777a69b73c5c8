package referral

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

// UserDirectory resolves the referred_by pointer of a user.
type UserDirectory interface {
	GetReferrer(userID int64) (referrerID int64, ok bool, err error)
}

// Crediter records one commission as an independent ledger credit.
type Crediter interface {
	CreditReferral(userID int64, amount decimal.Decimal, currency model.Currency,
		sourceUserID int64, level int, description string) (model.Transaction, error)
}

// LevelResult is the outcome of one cascade leg. Each leg succeeds or fails
// on its own; a failed leg never rolls back the others or the base reward.
type LevelResult struct {
	Level      int
	UserID     int64
	Commission decimal.Decimal
	Err        error
}

// Distributor walks the referral chain of a rewarded user and credits each
// ancestor a level-weighted share of the reward.
type Distributor struct {
	users UserDirectory
	led   Crediter
	rates []decimal.Decimal // index 0 is level 1; at most config.RefMaxLevels entries
}

func NewDistributor(users UserDirectory, led Crediter, rates []decimal.Decimal) *Distributor {
	if len(rates) > config.RefMaxLevels {
		rates = rates[:config.RefMaxLevels]
	}
	return &Distributor{users: users, led: led, rates: rates}
}

// Distribute cascades commissions for a base reward earned by originUserID.
// The walk stops at the first user without an inviter or after the hard
// 20-hop cap; dirty data forming a cycle is logged and cannot loop the walk
// past the cap.
func (d *Distributor) Distribute(originUserID int64, reward decimal.Decimal,
	currency model.Currency, origin string) []LevelResult {

	if !reward.IsPositive() {
		return nil
	}

	var results []LevelResult
	seen := map[int64]bool{originUserID: true}
	cycleLogged := false
	cur := originUserID
	for lvl := 1; lvl <= len(d.rates); lvl++ {
		ancestor, ok, err := d.users.GetReferrer(cur)
		if err != nil {
			log.Errorf("err: %+v", errors.WithMessagef(err, "resolve referrer of %d", cur))
			results = append(results, LevelResult{Level: lvl, UserID: cur, Err: err})
			return results
		}
		if !ok {
			return results
		}
		if seen[ancestor] && !cycleLogged {
			// Hard cap below still bounds the walk; flag the dirty chain once.
			log.Errorf("err: %+v", errors.WithMessagef(generr.ErrReferralCycle,
				"user %d reappears in chain of %d", ancestor, originUserID))
			cycleLogged = true
		}
		seen[ancestor] = true

		commission := reward.Mul(d.rates[lvl-1]).Round(8)
		res := LevelResult{Level: lvl, UserID: ancestor, Commission: commission}
		if commission.IsPositive() {
			desc := fmt.Sprintf("L%d commission from %s income of user %d", lvl, origin, originUserID)
			_, err = d.led.CreditReferral(ancestor, commission, currency, originUserID, lvl, desc)
			if err != nil {
				// Partial distribution beats none; keep walking.
				log.Errorf("err: %+v", errors.WithMessagef(err, "credit L%d commission to %d", lvl, ancestor))
				res.Err = err
			}
		}
		results = append(results, res)
		cur = ancestor
	}
	return results
}
