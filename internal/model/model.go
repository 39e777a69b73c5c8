package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a supported asset.
type Currency string

const (
	UNI Currency = "UNI"
	TON Currency = "TON"
)

func (c Currency) Valid() bool {
	return c == UNI || c == TON
}

type TxType string

const (
	TxFarmingReward  TxType = "farming_reward"
	TxFarmingDeposit TxType = "farming_deposit"
	TxFarmingReturn  TxType = "farming_return"
	TxReferralReward TxType = "referral_reward"
	TxBoostPurchase  TxType = "boost_purchase"
	TxWithdrawal     TxType = "withdrawal"
	TxBonus          TxType = "bonus"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// User 用户信息表结构
type User struct {
	ID         int64           `json:"id"`
	TelegramID *int64          `json:"telegram_id,omitempty"` // nil for guest accounts
	Username   string          `json:"username"`
	RefCode    string          `json:"ref_code"`
	ReferredBy *int64          `json:"referred_by,omitempty"` // direct inviter, forms a forest
	BalanceUNI decimal.Decimal `json:"balance_uni"`
	BalanceTON decimal.Decimal `json:"balance_ton"`
	BoostID    *int64          `json:"boost_id,omitempty"`
	BoostUntil *time.Time      `json:"boost_until,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BoostActive reports whether a purchased boost still applies at t.
func (u User) BoostActive(t time.Time) bool {
	return u.BoostID != nil && u.BoostUntil != nil && u.BoostUntil.After(t)
}

// Balance returns the cached balance for the given currency.
func (u User) Balance(c Currency) decimal.Decimal {
	if c == TON {
		return u.BalanceTON
	}
	return u.BalanceUNI
}

// FarmingDeposit is one active stake per user per currency.
type FarmingDeposit struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Currency      Currency        `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	DailyRate     decimal.Decimal `json:"daily_rate"` // fraction of Amount per day, e.g. 0.01
	StartedAt     time.Time       `json:"started_at"`
	LastAccrualAt time.Time       `json:"last_accrual_at"` // accrual checkpoint, advanced with each credit
	Active        bool            `json:"active"`
}

// Transaction is an append-only ledger entry. Rows are never mutated after
// creation; a user's cached balance must equal the sum of their confirmed
// amounts per currency.
type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Type         TxType          `json:"type"`
	Currency     Currency        `json:"currency"`
	Amount       decimal.Decimal `json:"amount"` // signed, negative for debits
	Status       TxStatus        `json:"status"`
	Description  string          `json:"description"`
	SourceUserID *int64          `json:"source_user_id,omitempty"` // originator, referral commissions only
	RefLevel     *int            `json:"ref_level,omitempty"`      // 1-based referral level
	CreatedAt    time.Time       `json:"created_at"`
}

// BoostPackage is a purchasable rate booster.
type BoostPackage struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	CostTON    decimal.Decimal `json:"cost_ton"`
	Multiplier decimal.Decimal `json:"multiplier"` // scales the deposit daily rate while active
	Days       int             `json:"days"`
}
