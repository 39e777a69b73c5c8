package service

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
	"unifarm-app/internal/app/farming"
	"unifarm-app/internal/app/referral"
	"unifarm-app/internal/app/scheduler"
	"unifarm-app/internal/app/user"
	"unifarm-app/internal/pkg/middleware"
)

var (
	srv   *http.Server
	sched *scheduler.Scheduler
)

func RunHttp(s *scheduler.Scheduler) {
	sched = s

	r := gin.Default()
	pprof.Register(r)

	userGroup := r.Group("/user")
	userGroup.POST("/register", user.Register)
	userGroup.GET("/balance", user.GetBalance)
	userGroup.GET("/transactions", user.ListTransactions)
	userGroup.GET("/reconcile", user.Reconcile)
	userGroup.POST("/withdraw", user.Withdraw)

	farmGroup := r.Group("/farming")
	farmGroup.POST("/deposit", farming.HandleDeposit)
	farmGroup.POST("/withdraw", farming.HandleWithdraw)
	farmGroup.GET("/state", farming.GetState)

	r.POST("/boost/purchase", farming.HandleBoost)
	r.GET("/referral/list", referral.ListReferrals)

	internalGroup := r.Group("/farm")
	internalGroup.Use(middleware.ValidateSign)
	internalGroup.POST("/start/manual", manualTick)

	srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler: r,
	}

	log.Infof("Start to listen %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %s\n", err)
	}
}

func GetHttp() *http.Server {
	return srv
}

// manualTick runs one accrual pass outside the cron cadence. The in-flight
// guard still applies, so it cannot double-run a tick.
func manualTick(c *gin.Context) {
	go sched.Tick()
	c.JSON(http.StatusOK, struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}{Code: 200, Msg: "success"})
}
