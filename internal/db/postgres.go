package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"unifarm-app/config"
)

var (
	PgCli *sql.DB
)

func Init() {
	connPostgres()
}

func connPostgres() {
	var err error
	pgCfg := config.Postgres
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pgCfg.Host, pgCfg.Port, pgCfg.User, pgCfg.Password, pgCfg.Database, pgCfg.SSLMode)
	PgCli, err = sql.Open("postgres", dsn)
	if err != nil {
		log.Error("Connect postgres error: ", err)
		panic(err)
	}
	PgCli.SetMaxIdleConns(pgCfg.MaxIdleConns)
	PgCli.SetMaxOpenConns(pgCfg.MaxOpenConns)
	if err = PgCli.Ping(); err != nil {
		log.Error("Ping postgres error: ", err)
		panic(err)
	}
	log.Infof("conn postgres %s/%s success", pgCfg.Host, pgCfg.Database)
}
