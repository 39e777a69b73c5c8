package ledger

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

type fakeStore struct {
	balances    map[string]decimal.Decimal
	checkpoints map[int64]time.Time
	deposits    map[int64]model.FarmingDeposit
	boosts      map[int64]int64
	txs         []model.Transaction
	nextID      int64
	nextDepID   int64
	appendErr   error
	closeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:    make(map[string]decimal.Decimal),
		checkpoints: make(map[int64]time.Time),
		deposits:    make(map[int64]model.FarmingDeposit),
		boosts:      make(map[int64]int64),
	}
}

func balKey(userID int64, c model.Currency) string {
	return fmt.Sprintf("%d/%s", userID, c)
}

func (s *fakeStore) Append(t model.Transaction) (int64, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.nextID++
	t.ID = s.nextID
	s.txs = append(s.txs, t)
	if t.Status == model.TxConfirmed {
		key := balKey(t.UserID, t.Currency)
		next := s.balances[key].Add(t.Amount)
		if next.IsNegative() {
			next = decimal.Zero
		}
		s.balances[key] = next
	}
	return t.ID, nil
}

func (s *fakeStore) SettleAccrual(t model.Transaction, depositID int64,
	newCheckpoint, expectedCheckpoint time.Time) (int64, error) {

	if cur, ok := s.checkpoints[depositID]; ok && !cur.Equal(expectedCheckpoint) {
		return 0, generr.ErrConcurrentUpdate
	}
	s.checkpoints[depositID] = newCheckpoint
	if t.Amount.IsZero() {
		return 0, nil
	}
	return s.Append(t)
}

func (s *fakeStore) StakeDeposit(t model.Transaction, dep model.FarmingDeposit) (model.FarmingDeposit, int64, error) {
	amount := t.Amount.Neg()
	bal, ok := s.balances[balKey(t.UserID, t.Currency)]
	if !ok {
		return model.FarmingDeposit{}, 0, sql.ErrNoRows
	}
	if bal.LessThan(amount) {
		return model.FarmingDeposit{}, 0, generr.ErrInsufficientFunds
	}
	if dep.ID == 0 {
		s.nextDepID++
		dep.ID = s.nextDepID
		dep.Amount = amount
		dep.Active = true
	} else {
		cur, ok := s.deposits[dep.ID]
		if !ok || !cur.Active {
			return model.FarmingDeposit{}, 0, generr.ErrConcurrentUpdate
		}
		dep.Amount = cur.Amount.Add(amount)
	}
	id, err := s.Append(t)
	if err != nil {
		return model.FarmingDeposit{}, 0, err
	}
	s.deposits[dep.ID] = dep
	return dep, id, nil
}

func (s *fakeStore) CloseDeposit(t model.Transaction, depositID int64, at time.Time) (int64, error) {
	if s.closeErr != nil {
		return 0, s.closeErr
	}
	cur, ok := s.deposits[depositID]
	if !ok || !cur.Active {
		return 0, generr.ErrConcurrentUpdate
	}
	cur.Active = false
	cur.LastAccrualAt = at
	s.deposits[depositID] = cur
	return s.Append(t)
}

func (s *fakeStore) ApplyBoost(t model.Transaction, boostID int64, until time.Time) (int64, error) {
	bal, ok := s.balances[balKey(t.UserID, t.Currency)]
	if !ok {
		return 0, sql.ErrNoRows
	}
	if bal.LessThan(t.Amount.Neg()) {
		return 0, generr.ErrInsufficientFunds
	}
	s.boosts[t.UserID] = boostID
	return s.Append(t)
}

func (s *fakeStore) Balance(userID int64, currency model.Currency) (decimal.Decimal, error) {
	bal, ok := s.balances[balKey(userID, currency)]
	if !ok {
		return decimal.Decimal{}, sql.ErrNoRows
	}
	return bal, nil
}

type recordingNotifier struct {
	published []model.Transaction
	err       error
}

func (n *recordingNotifier) Publish(t model.Transaction) error {
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, t)
	return nil
}

func TestCreditAppendsAndIncrements(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	l := New(store, notifier)

	tx, err := l.Credit(1, decimal.NewFromFloat(2.5), model.UNI, model.TxBonus, "welcome bonus")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if tx.ID == 0 {
		t.Fatal("credit returned zero tx id")
	}
	if len(store.txs) != 1 {
		t.Fatalf("tx rows = %d, want 1", len(store.txs))
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("balance = %s, want 2.5", bal)
	}
	if len(notifier.published) != 1 {
		t.Fatalf("published = %d, want 1", len(notifier.published))
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		_, err := l.Credit(1, amount, model.UNI, model.TxBonus, "bad")
		if !errors.Is(err, generr.ErrInvalidAmount) {
			t.Fatalf("credit %s: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if len(store.txs) != 0 {
		t.Fatalf("tx rows = %d, want 0", len(store.txs))
	}
}

func TestDebitInsufficientFundsWritesNothing(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	if _, err := l.Credit(1, decimal.NewFromInt(3), model.TON, model.TxBonus, "seed"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	_, err := l.Debit(1, decimal.NewFromInt(5), model.TON, model.TxWithdrawal, "too much")
	if !errors.Is(err, generr.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(store.txs) != 1 {
		t.Fatalf("tx rows = %d, want only the seed credit", len(store.txs))
	}
	bal, _ := store.Balance(1, model.TON)
	if !bal.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("balance = %s, want unchanged 3", bal)
	}
}

func TestDebitAppendsNegativeRow(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	l.Credit(7, decimal.NewFromInt(10), model.UNI, model.TxBonus, "seed")
	tx, err := l.Debit(7, decimal.NewFromInt(4), model.UNI, model.TxWithdrawal, "payout")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(-4)) {
		t.Fatalf("debit amount = %s, want -4", tx.Amount)
	}
	bal, _ := store.Balance(7, model.UNI)
	if !bal.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("balance = %s, want 6", bal)
	}
}

// The reconciliation invariant: the cached balance always equals the sum of
// confirmed signed amounts per currency.
func TestConfirmedSumMatchesBalance(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	l.Credit(1, decimal.NewFromFloat(12.5), model.UNI, model.TxBonus, "a")
	l.Credit(1, decimal.NewFromFloat(0.00011574), model.UNI, model.TxFarmingReward, "b")
	l.Debit(1, decimal.NewFromFloat(3.25), model.UNI, model.TxWithdrawal, "c")
	l.CreditReferral(1, decimal.NewFromInt(2), model.UNI, 9, 1, "d")

	sum := decimal.Zero
	for _, tx := range store.txs {
		if tx.UserID == 1 && tx.Currency == model.UNI && tx.Status == model.TxConfirmed {
			sum = sum.Add(tx.Amount)
		}
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(sum) {
		t.Fatalf("cached balance %s != confirmed sum %s", bal, sum)
	}
}

func TestSettleFarmingAdvancesCheckpoint(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	start := time.Now().UTC().Add(-time.Hour)
	dep := model.FarmingDeposit{
		ID:            42,
		UserID:        1,
		Currency:      model.UNI,
		Amount:        decimal.NewFromInt(1000),
		LastAccrualAt: start,
		Active:        true,
	}
	store.checkpoints[dep.ID] = start

	checkpoint := start.Add(time.Hour)
	tx, err := l.SettleFarming(dep, decimal.NewFromFloat(0.5), checkpoint)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.Type != model.TxFarmingReward {
		t.Fatalf("tx type = %s, want farming_reward", tx.Type)
	}
	if !store.checkpoints[dep.ID].Equal(checkpoint) {
		t.Fatal("checkpoint not advanced")
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("balance = %s, want 0.5", bal)
	}
}

func TestSettleFarmingConflict(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	start := time.Now().UTC().Add(-time.Hour)
	dep := model.FarmingDeposit{ID: 42, UserID: 1, Currency: model.UNI, LastAccrualAt: start}
	// Another settle already moved the checkpoint.
	store.checkpoints[dep.ID] = start.Add(time.Minute)

	_, err := l.SettleFarming(dep, decimal.NewFromInt(1), start.Add(time.Hour))
	if !errors.Is(err, generr.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	if len(store.txs) != 0 {
		t.Fatalf("tx rows = %d, want 0 after conflict", len(store.txs))
	}
}

func TestSettleFarmingRejectsNegativeReward(t *testing.T) {
	l := New(newFakeStore(), nil)
	dep := model.FarmingDeposit{ID: 1, UserID: 1, Currency: model.UNI}
	_, err := l.SettleFarming(dep, decimal.NewFromInt(-1), time.Now())
	if !errors.Is(err, generr.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestDebitUnknownUserSurfacesNoRows(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)

	_, err := l.Debit(99, decimal.NewFromInt(1), model.UNI, model.TxWithdrawal, "x")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
	if len(store.txs) != 0 {
		t.Fatalf("tx rows = %d, want 0", len(store.txs))
	}
}

func TestStakeCreatesDepositWithDebit(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(100), model.UNI, model.TxBonus, "seed")

	dep, err := l.Stake(model.FarmingDeposit{
		UserID:    1,
		Currency:  model.UNI,
		DailyRate: decimal.NewFromFloat(0.01),
	}, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if dep.ID == 0 || !dep.Active {
		t.Fatalf("staked deposit = %+v, want active with id", dep)
	}
	if !dep.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("deposit amount = %s, want 40", dep.Amount)
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s, want 60", bal)
	}
	last := store.txs[len(store.txs)-1]
	if last.Type != model.TxFarmingDeposit || !last.Amount.Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("debit row = %+v, want farming_deposit -40", last)
	}
}

func TestStakeInsufficientFundsWritesNothing(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(10), model.UNI, model.TxBonus, "seed")

	_, err := l.Stake(model.FarmingDeposit{UserID: 1, Currency: model.UNI}, decimal.NewFromInt(40))
	if !errors.Is(err, generr.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(store.txs) != 1 {
		t.Fatalf("tx rows = %d, want only the seed credit", len(store.txs))
	}
	if len(store.deposits) != 0 {
		t.Fatal("failed stake must not create a deposit")
	}
}

func TestStakeTopUpRequiresActiveDeposit(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(100), model.UNI, model.TxBonus, "seed")

	dep, err := l.Stake(model.FarmingDeposit{UserID: 1, Currency: model.UNI}, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	topped, err := l.Stake(dep, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !topped.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("amount after top-up = %s, want 50", topped.Amount)
	}

	// Deposit withdrawn between read and stake: nothing moves.
	if _, err = l.ReturnPrincipal(topped, time.Now()); err != nil {
		t.Fatalf("return principal: %v", err)
	}
	rows := len(store.txs)
	_, err = l.Stake(topped, decimal.NewFromInt(5))
	if !errors.Is(err, generr.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	if len(store.txs) != rows {
		t.Fatal("stake against a closed deposit wrote a row")
	}
}

func TestReturnPrincipalCreditsAndDeactivates(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(100), model.UNI, model.TxBonus, "seed")

	dep, err := l.Stake(model.FarmingDeposit{UserID: 1, Currency: model.UNI}, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	tx, err := l.ReturnPrincipal(dep, time.Now())
	if err != nil {
		t.Fatalf("return principal: %v", err)
	}
	if tx.Type != model.TxFarmingReturn || !tx.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("return row = %+v, want farming_return 40", tx)
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100 after return", bal)
	}
	if store.deposits[dep.ID].Active {
		t.Fatal("deposit still active after return")
	}
}

// A failed principal credit must leave the deposit active so the withdraw
// can be retried; the retry then pays the principal exactly once.
func TestReturnPrincipalFailureKeepsDepositRetriable(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(100), model.UNI, model.TxBonus, "seed")

	dep, err := l.Stake(model.FarmingDeposit{UserID: 1, Currency: model.UNI}, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	store.closeErr = errors.New("store down")
	rows := len(store.txs)
	if _, err = l.ReturnPrincipal(dep, time.Now()); err == nil {
		t.Fatal("return succeeded against a failing store")
	}
	if len(store.txs) != rows {
		t.Fatal("failed return wrote a ledger row")
	}
	if !store.deposits[dep.ID].Active {
		t.Fatal("failed return deactivated the deposit")
	}

	store.closeErr = nil
	if _, err = l.ReturnPrincipal(dep, time.Now()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	bal, _ := store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100 after retried return", bal)
	}

	// A second withdraw of the same deposit pays nothing.
	_, err = l.ReturnPrincipal(dep, time.Now())
	if !errors.Is(err, generr.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	bal, _ = store.Balance(1, model.UNI)
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, double principal payout", bal)
	}
}

func TestPurchaseBoostChargesAndStamps(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	l.Credit(1, decimal.NewFromInt(20), model.TON, model.TxBonus, "seed")

	pkg := model.BoostPackage{ID: 2, Name: "gold", CostTON: decimal.NewFromInt(15)}
	tx, err := l.PurchaseBoost(1, pkg, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("purchase boost: %v", err)
	}
	if tx.Type != model.TxBoostPurchase || !tx.Amount.Equal(decimal.NewFromInt(-15)) {
		t.Fatalf("boost row = %+v, want boost_purchase -15", tx)
	}
	if store.boosts[1] != 2 {
		t.Fatalf("boost id = %d, want 2", store.boosts[1])
	}

	_, err = l.PurchaseBoost(1, pkg, time.Now().Add(24*time.Hour))
	if !errors.Is(err, generr.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds on second purchase", err)
	}
}

func TestNotifierFailureDoesNotAffectLedger(t *testing.T) {
	store := newFakeStore()
	l := New(store, &recordingNotifier{err: errors.New("redis down")})

	_, err := l.Credit(1, decimal.NewFromInt(1), model.UNI, model.TxBonus, "x")
	if err != nil {
		t.Fatalf("credit with failing notifier: %v", err)
	}
	if len(store.txs) != 1 {
		t.Fatalf("tx rows = %d, want 1", len(store.txs))
	}
}
