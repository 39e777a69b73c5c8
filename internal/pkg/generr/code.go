package generr

import "github.com/pkg/errors"

// Typed failures returned by the ledger and scheduler paths. Wrapped with
// pkg/errors so callers can match with errors.Is.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrConcurrentUpdate   = errors.New("concurrent update conflict")
	ErrReferralCycle      = errors.New("referral cycle detected")
)

type mErr struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

var (
	ParseParam  = &mErr{400, "bad parameter"}
	ServerError = &mErr{500, "server error"}
)

var (
	SignMiss     = &mErr{601, "missing 's' parameter"}
	SignNotMatch = &mErr{602, "signature mismatch"}
	TimestampErr = &mErr{603, "bad 't' parameter"}
	TimestampOut = &mErr{604, "timestamp expired"}
	ReadDB       = &mErr{698, "database read error"}
	UpdateDB     = &mErr{699, "database update error"}

	UserNotFound    = &mErr{701, "user not found"}
	UserExists      = &mErr{702, "user already registered"}
	BadRefCode      = &mErr{703, "unknown referral code"}
	SelfRef         = &mErr{704, "self referral"}
	DepositNotFound = &mErr{801, "no active deposit"}
	BadBoost        = &mErr{802, "unknown boost package"}
	BoostActive     = &mErr{803, "boost already active"}

	BalanceNotEnough = &mErr{901, "insufficient balance"}
	AmountInvalid    = &mErr{902, "invalid amount"}
)
