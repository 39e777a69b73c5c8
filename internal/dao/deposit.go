package dao

import (
	"database/sql"

	"unifarm-app/internal/db"
	"unifarm-app/internal/model"
)

// deposit reads farming deposit rows. Writes live on the transaction DAO so
// every deposit state change commits together with its ledger row.
type deposit struct {
}

var Deposit = new(deposit)

const depositCols = "id,user_id,currency,amount,daily_rate,started_at,last_accrual_at,active"

// GetActive returns the single active deposit of a user for a currency.
func (*deposit) GetActive(userID int64, currency model.Currency) (d model.FarmingDeposit, err error) {
	sqlStr := "select " + depositCols + " from farming_deposits " +
		"where user_id = $1 and currency = $2 and active limit 1"
	row := db.PgCli.QueryRow(sqlStr, userID, currency)
	err = row.Scan(&d.ID, &d.UserID, &d.Currency, &d.Amount, &d.DailyRate,
		&d.StartedAt, &d.LastAccrualAt, &d.Active)
	if err != nil && err != sql.ErrNoRows {
		err = storeErr(err, "select deposit")
	}
	return
}

func (*deposit) GetByID(id int64) (d model.FarmingDeposit, err error) {
	sqlStr := "select " + depositCols + " from farming_deposits where id = $1"
	row := db.PgCli.QueryRow(sqlStr, id)
	err = row.Scan(&d.ID, &d.UserID, &d.Currency, &d.Amount, &d.DailyRate,
		&d.StartedAt, &d.LastAccrualAt, &d.Active)
	if err != nil && err != sql.ErrNoRows {
		err = storeErr(err, "select deposit by id")
	}
	return
}

// ListActive fetches every deposit the scheduler must visit this tick.
func (*deposit) ListActive() (deposits []model.FarmingDeposit, err error) {
	sqlStr := "select " + depositCols + " from farming_deposits where active order by id"
	rows, err := db.PgCli.Query(sqlStr)
	if err != nil {
		return nil, storeErr(err, "select active deposits")
	}
	defer rows.Close()

	for rows.Next() {
		var d model.FarmingDeposit
		err = rows.Scan(&d.ID, &d.UserID, &d.Currency, &d.Amount, &d.DailyRate,
			&d.StartedAt, &d.LastAccrualAt, &d.Active)
		if err != nil {
			return nil, storeErr(err, "scan deposit")
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}
