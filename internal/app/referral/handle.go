package referral

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"unifarm-app/internal/dao"
	"unifarm-app/internal/pkg/generr"
)

// ListReferrals returns the caller's direct invitees and their accumulated
// commission totals per currency.
func ListReferrals(c *gin.Context) {
	req := struct {
		UserID int64 `form:"user_id" binding:"required"`
	}{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, generr.ParseParam)
		return
	}

	invitees, err := dao.User.ListReferrals(req.UserID)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "list referrals"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}
	totals, err := dao.Transaction.SumReferralRewards(req.UserID)
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "sum referral rewards"))
		c.JSON(http.StatusInternalServerError, generr.ReadDB)
		return
	}

	type invitee struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	results := make([]invitee, 0, len(invitees))
	for _, u := range invitees {
		results = append(results, invitee{ID: u.ID, Username: u.Username})
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "success", "data": gin.H{
		"count":    len(results),
		"invitees": results,
		"earned":   totals,
	}})
}
