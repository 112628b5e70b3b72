package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/student"
	backendsvc "github.com/trezcool/checkin/services/backend"
	logsvc "github.com/trezcool/checkin/services/logger"
	"github.com/trezcool/checkin/storage/kvstore"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up local store
	db, err := kvstore.Open(conf.Storage.Path)
	errAndDie(logger, err)
	defer db.Close()

	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())

	client, err := backendsvc.NewClient(backendsvc.Options{BaseURL: conf.API.BaseURL, Timeout: conf.API.Timeout})
	errAndDie(logger, err)
	authSvc := auth.NewService(client, auth.NewStore(kvstore.NewStore(db)), validate, logger)
	client.SetTokenFunc(authSvc.Token)

	// start CLI
	cli := commandLine{
		db:         db,
		authSvc:    authSvc,
		attendance: attendance.NewCoordinator(client, attendance.CoordinatorOptions{Logger: logger}),
		studentSvc: student.NewService(client, validate),
		out:        os.Stdout,
	}
	if len(os.Args) < 2 || os.Args[1] != "migrate" {
		errAndDie(logger, kvstore.Migrate(db))
	}
	err = cli.run(os.Args)
	logger.Wait()
	if err != nil {
		if err != errHelp {
			log.Printf("\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
