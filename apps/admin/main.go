package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
	appfs "github.com/trezcool/darasa/fs"
	emailsvc "github.com/trezcool/darasa/services/email"
	gatewaysvc "github.com/trezcool/darasa/services/gateway"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database"
	boiledrepos "github.com/trezcool/darasa/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	if conf.Database.Engine == "memory" {
		logger.Fatal("the admin CLI needs a postgres database", nil)
	}

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	var gateway payment.Gateway = gatewaysvc.NewMockGateway()
	if conf.Payment.Gateway == "http" {
		gateway = gatewaysvc.NewHTTPGateway(conf)
	}
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf.FrontendBaseURL, conf.TestMode, logger)

	usrRepo := boiledrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	notifier := notify.NewEmailDispatcher(usrSvc, mailSvc, logger)
	catSvc := catalog.NewService(sqlxrepos.NewCatalogRepository(db), conf)
	enrlSvc := enrollment.NewService(boiledrepos.NewEnrollmentRepository(db), catSvc, usrSvc, notifier, conf, logger)
	pmtSvc := payment.NewService(boiledrepos.NewPaymentRepository(db), enrlSvc, catSvc, gateway, notifier, conf, logger)

	// start CLI
	cli := commandLine{
		db:         db,
		logger:     logger,
		usrSvc:     usrSvc,
		usrRepo:    usrRepo,
		reconciler: pmtSvc,
		maintainer: enrlSvc,
	}
	err = cli.run(os.Args)
	if cErr := db.Close(); cErr != nil {
		logger.Error(fmt.Sprintf("closing database: %v", cErr), cErr)
	}
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		os.Exit(1)
	}
}
