package farming

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/internal/dao"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

type stakeReq struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount"`
}

func HandleDeposit(c *gin.Context) {
	var req stakeReq
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

	dep, err := Deposit(req.UserID, currency, amount)
	if errors.Is(err, generr.ErrInsufficientFunds) {
		c.JSON(http.StatusBadRequest, generr.BalanceNotEnough)
		return
	}
	if errors.Is(err, generr.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, generr.AmountInvalid)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, generr.UserNotFound)
		return
	}
	if errors.Is(err, generr.ErrConcurrentUpdate) {
		c.JSON(http.StatusBadRequest, generr.DepositNotFound)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "farming deposit"))
		c.JSON(http.StatusInternalServerError, generr.UpdateDB)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": dep})
}

func HandleWithdraw(c *gin.Context) {
	var req stakeReq
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

	dep, err := Withdraw(req.UserID, currency)
	if err == sql.ErrNoRows || errors.Is(err, generr.ErrConcurrentUpdate) {
		c.JSON(http.StatusBadRequest, generr.DepositNotFound)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "farming withdraw"))
		c.JSON(http.StatusInternalServerError, generr.UpdateDB)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": dep})
}

// GetState returns the caller's active deposits.
func GetState(c *gin.Context) {
	req := struct {
		UserID int64 `form:"user_id" binding:"required"`
	}{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	deposits := make([]model.FarmingDeposit, 0, 2)
	for _, currency := range []model.Currency{model.UNI, model.TON} {
		dep, err := dao.Deposit.GetActive(req.UserID, currency)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "get deposit"))
			c.JSON(http.StatusInternalServerError, generr.ReadDB)
			return
		}
		deposits = append(deposits, dep)
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": deposits})
}

func HandleBoost(c *gin.Context) {
	req := struct {
		UserID    int64 `json:"user_id" binding:"required"`
		PackageID int64 `json:"package_id" binding:"required"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "should bind"))
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	pkg, err := PurchaseBoost(req.UserID, req.PackageID)
	if errors.Is(err, generr.ErrInsufficientFunds) {
		c.JSON(http.StatusBadRequest, generr.BalanceNotEnough)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, generr.UserNotFound)
		return
	}
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "purchase boost"))
		c.JSON(http.StatusBadRequest, generr.BadBoost)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": pkg})
}
