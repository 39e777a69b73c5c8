package dao

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"unifarm-app/internal/db"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

type transaction struct {
}

var Transaction = new(transaction)

const txCols = "id,user_id,type,currency,amount,status,description,source_user_id,ref_level,created_at"

func balanceColumn(c model.Currency) string {
	if c == model.TON {
		return "balance_ton"
	}
	return "balance_uni"
}

// Append inserts one ledger row and applies its amount to the user's cached
// balance in the same database transaction. The balance is clamped at zero on
// the debit side; see the ledger for the pre-check that makes the clamp a
// last-resort floor rather than normal control flow.
func (*transaction) Append(t model.Transaction) (id int64, err error) {
	tx, err := db.PgCli.Begin()
	if err != nil {
		return 0, storeErr(err, "tx begin")
	}
	id, err = insertTx(tx, t)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if t.Status == model.TxConfirmed {
		if err = applyBalance(tx, t); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, storeErr(err, "tx commit")
	}
	return id, nil
}

// SettleAccrual records a farming reward and advances the deposit's accrual
// checkpoint in one database transaction. The checkpoint update is
// conditional on the previously read value; if another tick got there first
// nothing is written and generr.ErrConcurrentUpdate comes back.
func (*transaction) SettleAccrual(t model.Transaction, depositID int64,
	newCheckpoint, expectedCheckpoint time.Time) (id int64, err error) {

	tx, err := db.PgCli.Begin()
	if err != nil {
		return 0, storeErr(err, "tx begin")
	}
	sqlStr := "update farming_deposits set last_accrual_at = $1 " +
		"where id = $2 and active and last_accrual_at = $3"
	res, err := tx.Exec(sqlStr, newCheckpoint, depositID, expectedCheckpoint)
	if err != nil {
		tx.Rollback()
		return 0, storeErr(err, "advance checkpoint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, storeErr(err, "rows affected")
	}
	if n == 0 {
		tx.Rollback()
		return 0, generr.ErrConcurrentUpdate
	}

	// Zero rewards advance the checkpoint without touching the ledger.
	if !t.Amount.IsZero() {
		id, err = insertTx(tx, t)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if err = applyBalance(tx, t); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, storeErr(err, "tx commit")
	}
	return id, nil
}

// StakeDeposit moves a debit into a farming deposit in one database
// transaction: balance check under row lock, ledger row, balance update and
// the deposit insert or top-up. Insufficient funds rolls back with nothing
// written; a missing user comes back as raw sql.ErrNoRows.
func (*transaction) StakeDeposit(t model.Transaction, dep model.FarmingDeposit) (d model.FarmingDeposit, txID int64, err error) {
	amount := t.Amount.Neg()
	tx, err := db.PgCli.Begin()
	if err != nil {
		return d, 0, storeErr(err, "tx begin")
	}
	if err = checkBalance(tx, t.UserID, t.Currency, amount); err != nil {
		tx.Rollback()
		return d, 0, err
	}
	if txID, err = insertTx(tx, t); err != nil {
		tx.Rollback()
		return d, 0, err
	}
	if err = applyBalance(tx, t); err != nil {
		tx.Rollback()
		return d, 0, err
	}

	d = dep
	if dep.ID == 0 {
		sqlStr := "insert into farming_deposits (user_id,currency,amount,daily_rate,started_at,last_accrual_at,active) " +
			"values ($1,$2,$3,$4,$5,$6,true) returning id"
		err = tx.QueryRow(sqlStr, dep.UserID, dep.Currency, amount, dep.DailyRate,
			dep.StartedAt, dep.LastAccrualAt).Scan(&d.ID)
		if err != nil {
			tx.Rollback()
			return model.FarmingDeposit{}, 0, storeErr(err, "insert deposit")
		}
		d.Amount = amount
		d.Active = true
	} else {
		sqlStr := "update farming_deposits set amount = amount + $1 where id = $2 and active"
		res, err2 := tx.Exec(sqlStr, amount, dep.ID)
		if err2 != nil {
			tx.Rollback()
			return model.FarmingDeposit{}, 0, storeErr(err2, "top up deposit")
		}
		if n, err2 := res.RowsAffected(); err2 == nil && n == 0 {
			tx.Rollback()
			return model.FarmingDeposit{}, 0, generr.ErrConcurrentUpdate
		}
		d.Amount = dep.Amount.Add(amount)
	}
	if err = tx.Commit(); err != nil {
		return model.FarmingDeposit{}, 0, storeErr(err, "tx commit")
	}
	return d, txID, nil
}

// CloseDeposit credits the principal back and deactivates the deposit in one
// database transaction. The deactivation is conditional on the deposit still
// being active; rows==0 means another withdraw won and nothing is written.
func (*transaction) CloseDeposit(t model.Transaction, depositID int64, at time.Time) (id int64, err error) {
	tx, err := db.PgCli.Begin()
	if err != nil {
		return 0, storeErr(err, "tx begin")
	}
	sqlStr := "update farming_deposits set active = false, last_accrual_at = $1 " +
		"where id = $2 and active"
	res, err := tx.Exec(sqlStr, at, depositID)
	if err != nil {
		tx.Rollback()
		return 0, storeErr(err, "deactivate deposit")
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, storeErr(err, "rows affected")
	}
	if n == 0 {
		tx.Rollback()
		return 0, generr.ErrConcurrentUpdate
	}
	if id, err = insertTx(tx, t); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err = applyBalance(tx, t); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, storeErr(err, "tx commit")
	}
	return id, nil
}

// ApplyBoost charges a boost package and stamps it on the user in one
// database transaction.
func (*transaction) ApplyBoost(t model.Transaction, boostID int64, until time.Time) (id int64, err error) {
	tx, err := db.PgCli.Begin()
	if err != nil {
		return 0, storeErr(err, "tx begin")
	}
	if err = checkBalance(tx, t.UserID, t.Currency, t.Amount.Neg()); err != nil {
		tx.Rollback()
		return 0, err
	}
	if id, err = insertTx(tx, t); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err = applyBalance(tx, t); err != nil {
		tx.Rollback()
		return 0, err
	}
	sqlStr := "update users set boost_id = $1, boost_until = $2 where id = $3"
	if _, err = tx.Exec(sqlStr, boostID, until, t.UserID); err != nil {
		tx.Rollback()
		return 0, storeErr(err, "update boost")
	}
	if err = tx.Commit(); err != nil {
		return 0, storeErr(err, "tx commit")
	}
	return id, nil
}

// checkBalance locks the user row and verifies the cached balance covers the
// charge. sql.ErrNoRows passes through raw for a missing user.
func checkBalance(tx *sql.Tx, userID int64, currency model.Currency, charge decimal.Decimal) error {
	var bal decimal.Decimal
	sqlStr := "select " + balanceColumn(currency) + " from users where id = $1 for update"
	err := tx.QueryRow(sqlStr, userID).Scan(&bal)
	if err == sql.ErrNoRows {
		return err
	}
	if err != nil {
		return storeErr(err, "select balance")
	}
	if bal.LessThan(charge) {
		return errors.WithMessagef(generr.ErrInsufficientFunds,
			"balance %s < charge %s %s", bal, charge, currency)
	}
	return nil
}

func insertTx(tx *sql.Tx, t model.Transaction) (id int64, err error) {
	sqlStr := "insert into transactions (user_id,type,currency,amount,status,description,source_user_id,ref_level) " +
		"values ($1,$2,$3,$4,$5,$6,$7,$8) returning id"
	err = tx.QueryRow(sqlStr, t.UserID, t.Type, t.Currency, t.Amount, t.Status,
		t.Description, t.SourceUserID, t.RefLevel).Scan(&id)
	if err != nil {
		err = storeErr(err, "insert transaction")
	}
	return
}

func applyBalance(tx *sql.Tx, t model.Transaction) error {
	col := balanceColumn(t.Currency)
	sqlStr := "update users set " + col + " = greatest(" + col + " + $1, 0) where id = $2"
	res, err := tx.Exec(sqlStr, t.Amount, t.UserID)
	if err != nil {
		return storeErr(err, "apply balance")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storeErr(sql.ErrNoRows, "apply balance: user missing")
	}
	return nil
}

// Balance reads the cached balance for a currency.
func (*transaction) Balance(userID int64, currency model.Currency) (bal decimal.Decimal, err error) {
	sqlStr := "select " + balanceColumn(currency) + " from users where id = $1"
	err = db.PgCli.QueryRow(sqlStr, userID).Scan(&bal)
	if err == sql.ErrNoRows {
		return bal, err
	}
	if err != nil {
		return bal, storeErr(err, "select balance")
	}
	return bal, nil
}

func (*transaction) ListByUser(userID int64, page, size int) (txs []model.Transaction, total int, err error) {
	err = db.PgCli.QueryRow("select count(*) from transactions where user_id = $1", userID).Scan(&total)
	if err != nil {
		return nil, 0, storeErr(err, "count transactions")
	}

	sqlStr := "select " + txCols + " from transactions where user_id = $1 " +
		"order by created_at desc, id desc limit $2 offset $3"
	rows, err := db.PgCli.Query(sqlStr, userID, size, (page-1)*size)
	if err != nil {
		return nil, 0, storeErr(err, "select transactions")
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Transaction
		err = rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Currency, &t.Amount, &t.Status,
			&t.Description, &t.SourceUserID, &t.RefLevel, &t.CreatedAt)
		if err != nil {
			return nil, 0, storeErr(err, "scan transaction")
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

// SumConfirmed recomputes a balance from the ledger. The cached column must
// always match this sum; the reconcile endpoint reports any drift.
func (*transaction) SumConfirmed(userID int64, currency model.Currency) (sum decimal.Decimal, err error) {
	sqlStr := "select coalesce(sum(amount), 0) from transactions " +
		"where user_id = $1 and currency = $2 and status = $3"
	err = db.PgCli.QueryRow(sqlStr, userID, currency, model.TxConfirmed).Scan(&sum)
	if err != nil {
		err = storeErr(err, "sum transactions")
	}
	return
}

// SumReferralRewards totals confirmed referral commissions per currency.
func (*transaction) SumReferralRewards(userID int64) (totals map[model.Currency]decimal.Decimal, err error) {
	sqlStr := "select currency, coalesce(sum(amount), 0) from transactions " +
		"where user_id = $1 and type = $2 and status = $3 group by currency"
	rows, err := db.PgCli.Query(sqlStr, userID, model.TxReferralReward, model.TxConfirmed)
	if err != nil {
		return nil, storeErr(err, "sum referral rewards")
	}
	defer rows.Close()

	totals = make(map[model.Currency]decimal.Decimal)
	for rows.Next() {
		var c model.Currency
		var sum decimal.Decimal
		if err = rows.Scan(&c, &sum); err != nil {
			return nil, storeErr(err, "scan referral sum")
		}
		totals[c] = sum
	}
	return totals, rows.Err()
}
