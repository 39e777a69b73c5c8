package farming

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
	"unifarm-app/internal/app/ledger"
	"unifarm-app/internal/dao"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

var led *ledger.Ledger

// Setup wires the shared ledger. Called once from the composition root.
func Setup(l *ledger.Ledger) {
	led = l
}

// Deposit moves amount from the user's cached balance into their active
// farming deposit for the currency, creating the deposit on first use. The
// debit and the deposit change commit in one store transaction. An existing
// deposit has its pending interval settled before the amount grows, so the
// top-up never back-applies to already earned time.
func Deposit(userID int64, currency model.Currency, amount decimal.Decimal) (model.FarmingDeposit, error) {
	now := time.Now().UTC()

	dep, err := dao.Deposit.GetActive(userID, currency)
	if err == sql.ErrNoRows {
		dep = model.FarmingDeposit{
			UserID:        userID,
			Currency:      currency,
			DailyRate:     config.DailyRate(string(currency)),
			StartedAt:     now,
			LastAccrualAt: now,
		}
		return led.Stake(dep, amount)
	}
	if err != nil {
		return model.FarmingDeposit{}, err
	}

	if err = settlePending(&dep, now); err != nil {
		return model.FarmingDeposit{}, errors.WithMessage(err, "settle before top-up")
	}
	return led.Stake(dep, amount)
}

// Withdraw settles the pending interval, then returns the principal and
// deactivates the deposit in one store transaction, so a failed credit
// leaves the deposit active and the whole call retriable.
func Withdraw(userID int64, currency model.Currency) (model.FarmingDeposit, error) {
	now := time.Now().UTC()

	dep, err := dao.Deposit.GetActive(userID, currency)
	if err != nil {
		return model.FarmingDeposit{}, err
	}

	if err = settlePending(&dep, now); err != nil {
		return model.FarmingDeposit{}, errors.WithMessage(err, "settle before withdraw")
	}
	if _, err = led.ReturnPrincipal(dep, now); err != nil {
		return model.FarmingDeposit{}, err
	}
	dep.Active = false
	dep.LastAccrualAt = now
	return dep, nil
}

// PurchaseBoost charges the package cost in TON and activates the boost in
// one store transaction.
func PurchaseBoost(userID, packageID int64) (model.BoostPackage, error) {
	now := time.Now().UTC()

	pkg, ok := boostPackage(packageID)
	if !ok {
		return model.BoostPackage{}, errors.Errorf("unknown boost package %d", packageID)
	}
	u, err := dao.User.GetByID(userID)
	if err != nil {
		return model.BoostPackage{}, err
	}
	if u.BoostActive(now) {
		return model.BoostPackage{}, errors.New("boost already active")
	}

	until := now.AddDate(0, 0, pkg.Days)
	if _, err = led.PurchaseBoost(userID, pkg, until); err != nil {
		return model.BoostPackage{}, err
	}
	return pkg, nil
}

// settlePending credits whatever the interval since the last checkpoint is
// worth and advances the checkpoint to now. A checkpoint conflict means a
// scheduler tick settled concurrently; retry once against the fresh state.
func settlePending(dep *model.FarmingDeposit, now time.Time) error {
	for attempt := 0; ; attempt++ {
		u, err := dao.User.GetByID(dep.UserID)
		if err != nil {
			return err
		}
		reward, checkpoint := Accrue(*dep, EffectiveRate(*dep, u, now), now)
		if checkpoint.Equal(dep.LastAccrualAt) {
			return nil
		}
		_, err = led.SettleFarming(*dep, reward, checkpoint)
		if err == nil {
			dep.LastAccrualAt = checkpoint
			return nil
		}
		if !errors.Is(err, generr.ErrConcurrentUpdate) || attempt > 0 {
			return err
		}
		log.Infof("deposit %d checkpoint moved, retrying settle", dep.ID)
		fresh, err := dao.Deposit.GetByID(dep.ID)
		if err != nil {
			return err
		}
		*dep = fresh
	}
}
