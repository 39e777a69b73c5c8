package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
	"unifarm-app/internal/app/farming"
	"unifarm-app/internal/app/ledger"
	"unifarm-app/internal/app/notify"
	"unifarm-app/internal/app/referral"
	"unifarm-app/internal/app/scheduler"
	"unifarm-app/internal/app/service"
	"unifarm-app/internal/app/user"
	"unifarm-app/internal/dao"
	"unifarm-app/internal/db"
)

func main() {
	flag.Parse()
	config.Init()
	db.Init()
	db.InitRedis()

	var notifier ledger.Notifier
	if p := notify.New(db.RedisCli, config.Redis.Channel); p != nil {
		notifier = p
	}
	led := ledger.New(dao.Transaction, notifier)
	farming.Setup(led)
	user.Setup(led)

	dist := referral.NewDistributor(dao.User, led, config.RefRates())
	sched := scheduler.New(dao.Deposit, dao.User, led, dist,
		config.Farm.Schedule, time.Duration(config.Farm.MinElapsedSeconds)*time.Second)
	if err := sched.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	go service.RunHttp(sched)

	// Wait for interrupt signal to gracefully shutdown the server with
	// a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown Server ...")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.GetHttp().Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	log.Info("Server exiting")
}
