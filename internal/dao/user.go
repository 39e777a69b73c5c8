package dao

import (
	"database/sql"

	"github.com/pkg/errors"

	"unifarm-app/internal/db"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

// storeErr tags a driver failure so callers can match
// errors.Is(err, generr.ErrStorageUnavailable).
func storeErr(err error, op string) error {
	return errors.WithMessagef(generr.ErrStorageUnavailable, "%s: %v", op, err)
}

type user struct {
}

var User = new(user)

const userCols = "id,telegram_id,username,ref_code,referred_by,balance_uni,balance_ton,boost_id,boost_until,created_at"

func scanUser(row *sql.Row) (u model.User, err error) {
	err = row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.RefCode, &u.ReferredBy,
		&u.BalanceUNI, &u.BalanceTON, &u.BoostID, &u.BoostUntil, &u.CreatedAt)
	return
}

func (*user) Create(u model.User) (id int64, err error) {
	sqlStr := "insert into users (telegram_id,username,ref_code,referred_by) " +
		"values ($1,$2,$3,$4) returning id"
	err = db.PgCli.QueryRow(sqlStr, u.TelegramID, u.Username, u.RefCode, u.ReferredBy).Scan(&id)
	if err != nil {
		err = storeErr(err, "insert user")
	}
	return
}

func (*user) GetByID(id int64) (model.User, error) {
	sqlStr := "select " + userCols + " from users where id = $1"
	u, err := scanUser(db.PgCli.QueryRow(sqlStr, id))
	if err == sql.ErrNoRows {
		return u, err
	}
	if err != nil {
		return u, storeErr(err, "select user")
	}
	return u, nil
}

func (*user) GetByTelegramID(tgID int64) (model.User, error) {
	sqlStr := "select " + userCols + " from users where telegram_id = $1"
	u, err := scanUser(db.PgCli.QueryRow(sqlStr, tgID))
	if err == sql.ErrNoRows {
		return u, err
	}
	if err != nil {
		return u, storeErr(err, "select user by telegram id")
	}
	return u, nil
}

func (*user) GetByRefCode(code string) (model.User, error) {
	sqlStr := "select " + userCols + " from users where ref_code = $1"
	u, err := scanUser(db.PgCli.QueryRow(sqlStr, code))
	if err == sql.ErrNoRows {
		return u, err
	}
	if err != nil {
		return u, storeErr(err, "select user by ref code")
	}
	return u, nil
}

// GetReferrer resolves the direct inviter of a user. ok is false when the
// user has no inviter (root of a referral tree).
func (*user) GetReferrer(userID int64) (referrerID int64, ok bool, err error) {
	sqlStr := "select referred_by from users where id = $1"
	var refBy *int64
	err = db.PgCli.QueryRow(sqlStr, userID).Scan(&refBy)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr(err, "select referrer")
	}
	if refBy == nil {
		return 0, false, nil
	}
	return *refBy, true, nil
}

// ListReferrals returns the direct invitees of a user.
func (*user) ListReferrals(userID int64) (users []model.User, err error) {
	sqlStr := "select " + userCols + " from users where referred_by = $1 order by created_at desc"
	rows, err := db.PgCli.Query(sqlStr, userID)
	if err != nil {
		return nil, storeErr(err, "select referrals")
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		err = rows.Scan(&u.ID, &u.TelegramID, &u.Username, &u.RefCode, &u.ReferredBy,
			&u.BalanceUNI, &u.BalanceTON, &u.BoostID, &u.BoostUntil, &u.CreatedAt)
		if err != nil {
			return nil, storeErr(err, "scan referral")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
