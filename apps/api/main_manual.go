package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/sqlboiler/v4/boil"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/access"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
	appfs "github.com/trezcool/darasa/fs"
	emailsvc "github.com/trezcool/darasa/services/email"
	gatewaysvc "github.com/trezcool/darasa/services/gateway"
	logsvc "github.com/trezcool/darasa/services/logger"
	schedsvc "github.com/trezcool/darasa/services/scheduler"
	"github.com/trezcool/darasa/storage/database"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
	boiledrepos "github.com/trezcool/darasa/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

func startManual() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB & repos
	var (
		usrRepo  user.Repository
		catRepo  catalog.Repository
		enrlRepo enrollment.Repository
		pmtRepo  payment.Repository
	)
	if conf.Database.Engine == "memory" {
		mem, err := dummydb.Open()
		if err != nil {
			logger.Fatal(fmt.Sprintf("opening in-memory database: %v", err), err)
		}
		usrRepo = dummydb.NewUserRepository(mem)
		catRepo = dummydb.NewCatalogRepository(mem)
		enrlRepo = dummydb.NewEnrollmentRepository(mem)
		pmtRepo = dummydb.NewPaymentRepository(mem)
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		boil.DebugMode = conf.Debug && !conf.TestMode

		usrRepo = boiledrepos.NewUserRepository(db)
		catRepo = sqlxrepos.NewCatalogRepository(db)
		enrlRepo = boiledrepos.NewEnrollmentRepository(db)
		pmtRepo = boiledrepos.NewPaymentRepository(db)
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

	usrSvc := user.NewService(usrRepo)
	notifier := notify.NewEmailDispatcher(usrSvc, mailSvc, logger)
	catSvc := catalog.NewService(catRepo, conf)
	enrlSvc := enrollment.NewService(enrlRepo, catSvc, usrSvc, notifier, conf, logger)
	accessSvc := access.NewService(enrlSvc, catSvc)
	pmtSvc := payment.NewService(pmtRepo, enrlSvc, catSvc, gateway, notifier, conf, logger)

	sched := schedsvc.New(logger)
	if err := schedsvc.RegisterJobs(sched, conf, logger, pmtSvc, enrlSvc); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling jobs: %v", err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	initApp(conf, logger, validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Scheduler & API Service

	sched.Start()
	defer sched.Stop()

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			UserSvc:       usrSvc,
			CatalogSvc:    catSvc,
			EnrollmentSvc: enrlSvc,
			AccessSvc:     accessSvc,
			PaymentSvc:    pmtSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// initApp registers the validators and loads the embedded email templates & password list.
func initApp(conf *core.Config, logger core.Logger, validate *validator.Validate, translator ut.Translator) {
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	payment.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf.FrontendBaseURL, conf.TestMode, logger)

	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsGz, logger)
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, "up"); err != nil {
		return nil, err
	}
	return db, nil
}
