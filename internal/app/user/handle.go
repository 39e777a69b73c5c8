package user

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/internal/app/ledger"
	"unifarm-app/internal/dao"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
	"unifarm-app/internal/pkg/util"
)

var led *ledger.Ledger

// Setup wires the shared ledger. Called once from the composition root.
func Setup(l *ledger.Ledger) {
	led = l
}

// Register creates an account on first Telegram auth or guest entry. An
// inviter ref code links the new user into the referral tree.
func Register(c *gin.Context) {
	req := struct {
		TelegramID *int64 `json:"telegram_id"`
		Username   string `json:"username"`
		RefCode    string `json:"ref_code"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	if req.TelegramID != nil {
		if _, err := dao.User.GetByTelegramID(*req.TelegramID); err == nil {
			c.JSON(http.StatusBadRequest, generr.UserExists)
			return
		} else if err != sql.ErrNoRows {
			log.Errorf("err: %+v", errors.Wrap(err, "lookup telegram id"))
			c.JSON(http.StatusInternalServerError, generr.ReadDB)
			return
		}
	}

	var referredBy *int64
	if req.RefCode != "" {
		inviter, err := dao.User.GetByRefCode(req.RefCode)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusBadRequest, generr.BadRefCode)
			return
		}
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "lookup ref code"))
			c.JSON(http.StatusInternalServerError, generr.ReadDB)
			return
		}
		referredBy = &inviter.ID
	}

	u := model.User{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		RefCode:    util.RandString(8),
		ReferredBy: referredBy,
	}
	id, err := dao.User.Create(u)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "create user"))
		c.JSON(http.StatusInternalServerError, generr.UpdateDB)
		return
	}
	u.ID = id
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": u})
}

func GetBalance(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	u, err := dao.User.GetByID(id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, generr.UserNotFound)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "get user"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": gin.H{
		"uni": u.BalanceUNI,
		"ton": u.BalanceTON,
	}})
}

func ListTransactions(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	txs, total, err := dao.Transaction.ListByUser(id, page, size)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "list transactions"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": gin.H{
		"count":   total,
		"results": txs,
	}})
}

// Withdraw debits the cached balance as an outbound transfer.
func Withdraw(c *gin.Context) {
	req := struct {
		UserID   int64  `json:"user_id" binding:"required"`
		Currency string `json:"currency" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}
	currency := model.Currency(req.Currency)
	if !currency.Valid() {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, generr.AmountInvalid)
		return
	}

	t, err := led.Debit(req.UserID, amount, currency, model.TxWithdrawal, "balance withdrawal")
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, generr.UserNotFound)
		return
	}
	if errors.Is(err, generr.ErrInsufficientFunds) {
		c.JSON(http.StatusBadRequest, generr.BalanceNotEnough)
		return
	}
	if errors.Is(err, generr.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, generr.AmountInvalid)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "withdraw"))
		c.JSON(http.StatusInternalServerError, generr.UpdateDB)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": t})
}

// Reconcile recomputes balances from the confirmed transaction sums and
// reports any drift against the cached columns.
func Reconcile(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	u, err := dao.User.GetByID(id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, generr.UserNotFound)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "get user"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}

	report := make(map[string]gin.H, 2)
	for _, currency := range []model.Currency{model.UNI, model.TON} {
		sum, err := dao.Transaction.SumConfirmed(id, currency)
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "sum transactions"))
			c.JSON(http.StatusInternalServerError, generr.ReadDB)
			return
		}
		cached := u.Balance(currency)
		report[string(currency)] = gin.H{
			"cached": cached,
			"ledger": sum,
			"drift":  cached.Sub(sum),
		}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": report})
}

func userIDParam(c *gin.Context) (int64, bool) {
	req := struct {
		UserID int64 `form:"user_id" binding:"required"`
	}{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return 0, false
	}
	return req.UserID, true
}

func pageParams(c *gin.Context) (page, size int, ok bool) {
	req := struct {
		Page int `form:"page,default=1"`
		Size int `form:"size,default=20"`
	}{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return 0, 0, false
	}
	if req.Page < 1 || req.Size < 1 || req.Size > 100 {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return 0, 0, false
	}
	return req.Page, req.Size, true
}
