package main

import (
	"log"
	"os"

	dig_container "github.com/trezcool/presence/apps/api/di/dig"
	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	logsvc "github.com/trezcool/presence/services/logger"
	"github.com/trezcool/presence/services/supabase"
	"github.com/trezcool/presence/storage/database"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	cli := &commandLine{out: os.Stdout}

	switch {
	case len(os.Args) < 2: // usage only
	case os.Args[1] == "migrate":
		// migrations only need the database
		db, err := database.Open(core.NewConfig())
		errAndDie(err)
		defer func() { _ = db.Close() }()
		errAndDie(db.Ping())
		cli.db = db
	default:
		c := dig_container.New()
		errAndDie(c.Decorate(func(conf *core.Config) core.Logger {
			l := logsvc.NewRollbarLogger(logger, conf)
			l.Enable(!conf.Debug && conf.RollbarToken != "")
			return l
		}))
		errAndDie(c.Invoke(func(
			client *supabase.Client,
			prov *account.Provisioner,
			svc *account.Service,
			closers dig_container.Closers,
		) {
			cli.auth = supabase.NewAuthService(client)
			cli.prov = prov
			cli.profileSvc = svc
			cli.closers = closers
		}))
	}

	err := cli.run(os.Args)
	cli.close()
	if err != nil {
		if err != errHelp {
			logger.Printf("error: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
