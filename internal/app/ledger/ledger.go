package ledger

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

// Store is the persistence contract. Every operation must apply its ledger
// row and the cached-balance change atomically, and the deposit-coupled ones
// (SettleAccrual, StakeDeposit, CloseDeposit) fold the deposit state change
// into that same transaction so a failure anywhere leaves no partial money
// flow. SettleAccrual's checkpoint advance and CloseDeposit's deactivation
// are conditional; generr.ErrConcurrentUpdate comes back when the row moved
// underneath and nothing was written.
type Store interface {
	Append(t model.Transaction) (int64, error)
	SettleAccrual(t model.Transaction, depositID int64, newCheckpoint, expectedCheckpoint time.Time) (int64, error)
	StakeDeposit(t model.Transaction, dep model.FarmingDeposit) (model.FarmingDeposit, int64, error)
	CloseDeposit(t model.Transaction, depositID int64, at time.Time) (int64, error)
	ApplyBoost(t model.Transaction, boostID int64, until time.Time) (int64, error)
	Balance(userID int64, currency model.Currency) (decimal.Decimal, error)
}

// Notifier pushes a confirmed transaction to interested parties (UI push).
// Failures are logged and dropped, never surfaced to the caller.
type Notifier interface {
	Publish(t model.Transaction) error
}

// Ledger records economic events. Each call writes at most one transaction
// row; there is no internal retry, callers decide on retry policy.
type Ledger struct {
	store    Store
	notifier Notifier
}

func New(store Store, notifier Notifier) *Ledger {
	return &Ledger{store: store, notifier: notifier}
}

// Credit appends a confirmed positive-amount transaction and increments the
// cached balance.
func (l *Ledger) Credit(userID int64, amount decimal.Decimal, currency model.Currency,
	typ model.TxType, description string) (model.Transaction, error) {

	t := model.Transaction{
		UserID:      userID,
		Type:        typ,
		Currency:    currency,
		Amount:      amount,
		Status:      model.TxConfirmed,
		Description: description,
	}
	return l.append(t)
}

// CreditReferral is Credit with the referral audit tags set, so each
// commission is independently traceable to its origin user and level.
func (l *Ledger) CreditReferral(userID int64, amount decimal.Decimal, currency model.Currency,
	sourceUserID int64, level int, description string) (model.Transaction, error) {

	t := model.Transaction{
		UserID:       userID,
		Type:         model.TxReferralReward,
		Currency:     currency,
		Amount:       amount,
		Status:       model.TxConfirmed,
		Description:  description,
		SourceUserID: &sourceUserID,
		RefLevel:     &level,
	}
	return l.append(t)
}

// Debit appends a confirmed negative-amount transaction after checking the
// cached balance. On insufficient funds no row is written. The store clamps
// the resulting balance at zero as a final floor. A missing user surfaces
// the store's no-rows error unchanged for the handlers to map.
func (l *Ledger) Debit(userID int64, amount decimal.Decimal, currency model.Currency,
	typ model.TxType, description string) (model.Transaction, error) {

	if err := validAmount(amount); err != nil {
		return model.Transaction{}, err
	}
	bal, err := l.store.Balance(userID, currency)
	if err != nil {
		return model.Transaction{}, errors.WithMessage(err, "read balance")
	}
	if bal.LessThan(amount) {
		return model.Transaction{}, errors.WithMessagef(generr.ErrInsufficientFunds,
			"balance %s < debit %s %s", bal, amount, currency)
	}
	t := model.Transaction{
		UserID:      userID,
		Type:        typ,
		Currency:    currency,
		Amount:      amount.Neg(),
		Status:      model.TxConfirmed,
		Description: description,
	}
	return l.appendSigned(t)
}

// Stake debits amount from the cached balance and creates or tops up the
// user's farming deposit in one store transaction, so a crash can never
// leave funds debited without a deposit to show for them. dep.ID zero means
// a new deposit built from dep's fields; otherwise amount is added to the
// existing row. The balance check runs inside the store under row lock;
// insufficient funds writes nothing.
func (l *Ledger) Stake(dep model.FarmingDeposit, amount decimal.Decimal) (model.FarmingDeposit, error) {
	if err := validAmount(amount); err != nil {
		return model.FarmingDeposit{}, err
	}
	t := model.Transaction{
		UserID:      dep.UserID,
		Type:        model.TxFarmingDeposit,
		Currency:    dep.Currency,
		Amount:      amount.Neg(),
		Status:      model.TxConfirmed,
		Description: "farming deposit",
	}
	staked, id, err := l.store.StakeDeposit(t, dep)
	if err != nil {
		return model.FarmingDeposit{}, err
	}
	t.ID = id
	l.notify(t)
	return staked, nil
}

// ReturnPrincipal credits the deposit principal back to the cached balance
// and deactivates the deposit in one store transaction. Deactivation is
// conditional on the deposit still being active, so a raced or repeated
// withdraw yields generr.ErrConcurrentUpdate instead of paying twice, and a
// failed credit leaves the deposit active for a clean retry.
func (l *Ledger) ReturnPrincipal(dep model.FarmingDeposit, at time.Time) (model.Transaction, error) {
	if err := validAmount(dep.Amount); err != nil {
		return model.Transaction{}, err
	}
	t := model.Transaction{
		UserID:      dep.UserID,
		Type:        model.TxFarmingReturn,
		Currency:    dep.Currency,
		Amount:      dep.Amount,
		Status:      model.TxConfirmed,
		Description: fmt.Sprintf("farming principal return, deposit %d", dep.ID),
	}
	id, err := l.store.CloseDeposit(t, dep.ID, at)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = id
	l.notify(t)
	return t, nil
}

// PurchaseBoost debits the package cost in TON and stamps the boost on the
// user in one store transaction.
func (l *Ledger) PurchaseBoost(userID int64, pkg model.BoostPackage, until time.Time) (model.Transaction, error) {
	if err := validAmount(pkg.CostTON); err != nil {
		return model.Transaction{}, err
	}
	t := model.Transaction{
		UserID:      userID,
		Type:        model.TxBoostPurchase,
		Currency:    model.TON,
		Amount:      pkg.CostTON.Neg(),
		Status:      model.TxConfirmed,
		Description: "boost package " + pkg.Name,
	}
	id, err := l.store.ApplyBoost(t, pkg.ID, until)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = id
	l.notify(t)
	return t, nil
}

// SettleFarming credits an accrual reward and advances the deposit checkpoint
// atomically. A zero reward still advances the checkpoint (idempotent no-op
// on the ledger side).
func (l *Ledger) SettleFarming(dep model.FarmingDeposit, reward decimal.Decimal,
	checkpoint time.Time) (model.Transaction, error) {

	if reward.IsNegative() {
		return model.Transaction{}, errors.WithMessagef(generr.ErrInvalidAmount,
			"negative reward %s", reward)
	}
	t := model.Transaction{
		UserID:      dep.UserID,
		Type:        model.TxFarmingReward,
		Currency:    dep.Currency,
		Amount:      reward,
		Status:      model.TxConfirmed,
		Description: fmt.Sprintf("farming income, deposit %d", dep.ID),
	}
	id, err := l.store.SettleAccrual(t, dep.ID, checkpoint, dep.LastAccrualAt)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = id
	if !reward.IsZero() {
		l.notify(t)
	}
	return t, nil
}

func (l *Ledger) append(t model.Transaction) (model.Transaction, error) {
	if err := validAmount(t.Amount); err != nil {
		return model.Transaction{}, err
	}
	return l.appendSigned(t)
}

func (l *Ledger) appendSigned(t model.Transaction) (model.Transaction, error) {
	id, err := l.store.Append(t)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = id
	l.notify(t)
	return t, nil
}

func (l *Ledger) notify(t model.Transaction) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Publish(t); err != nil {
		log.Warnf("publish transaction %d: %v", t.ID, err)
	}
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.WithMessagef(generr.ErrInvalidAmount, "amount %s", amount)
	}
	return nil
}
