package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/access"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	gatewaysvc "github.com/trezcool/darasa/services/gateway"
	logsvc "github.com/trezcool/darasa/services/logger"
	schedsvc "github.com/trezcool/darasa/services/scheduler"
	"github.com/trezcool/darasa/storage/database"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
	boiledrepos "github.com/trezcool/darasa/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Repositories are the storage of every domain, backed by the configured database engine.
	Repositories struct {
		dig.Out
		Users       user.Repository
		Catalog     catalog.Repository
		Enrollments enrollment.Repository
		Payments    payment.Repository
	}

	serverParams struct {
		dig.In
		Conf          *core.Config
		Logger        core.Logger
		Validate      *validator.Validate
		Translator    ut.Translator
		UserSvc       *user.Service
		CatalogSvc    *catalog.Service
		EnrollmentSvc *enrollment.Service
		AccessSvc     *access.Service
		PaymentSvc    *payment.Service
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

// newDB returns nil when the app runs on the in-memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sql.DB {
	if conf.Database.Engine == "memory" {
		return nil
	}

	setUp := func() (*sql.DB, error) {
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

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	boil.DebugMode = conf.Debug && !conf.TestMode
	return db
}

func newRepositories(db *sql.DB) (Repositories, error) {
	if db == nil {
		mem, err := dummydb.Open()
		if err != nil {
			return Repositories{}, errors.Wrap(err, "opening in-memory database")
		}
		return Repositories{
			Users:       dummydb.NewUserRepository(mem),
			Catalog:     dummydb.NewCatalogRepository(mem),
			Enrollments: dummydb.NewEnrollmentRepository(mem),
			Payments:    dummydb.NewPaymentRepository(mem),
		}, nil
	}
	return Repositories{
		Users:       boiledrepos.NewUserRepository(db),
		Catalog:     sqlxrepos.NewCatalogRepository(db),
		Enrollments: boiledrepos.NewEnrollmentRepository(db),
		Payments:    boiledrepos.NewPaymentRepository(db),
	}, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newGateway(conf *core.Config) payment.Gateway {
	if conf.Payment.Gateway == "http" {
		return gatewaysvc.NewHTTPGateway(conf)
	}
	return gatewaysvc.NewMockGateway()
}

func newNotifier(users user.Directory, mailer core.EmailService, logger core.Logger) notify.Dispatcher {
	return notify.NewEmailDispatcher(users, mailer, logger)
}

func newScheduler(
	conf *core.Config,
	logger core.Logger,
	enrlSvc *enrollment.Service,
	paySvc *payment.Service,
) (*schedsvc.Scheduler, error) {
	sched := schedsvc.New(logger)
	if err := schedsvc.RegisterJobs(sched, conf, logger, paySvc, enrlSvc); err != nil {
		return nil, err
	}
	return sched, nil
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		Validate:      p.Validate,
		Translator:    p.Translator,
		UserSvc:       p.UserSvc,
		CatalogSvc:    p.CatalogSvc,
		EnrollmentSvc: p.EnrollmentSvc,
		AccessSvc:     p.AccessSvc,
		PaymentSvc:    p.PaymentSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(newGateway))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))

	// services & the views other domains have on them
	must(c.Provide(user.NewService))
	must(c.Provide(func(svc *user.Service) user.Directory { return svc }))
	must(c.Provide(newNotifier))
	must(c.Provide(catalog.NewService))
	must(c.Provide(func(svc *catalog.Service) (enrollment.Catalog, access.Catalog, payment.Catalog) {
		return svc, svc, svc
	}))
	must(c.Provide(enrollment.NewService))
	must(c.Provide(func(svc *enrollment.Service) (access.Ledger, payment.Ledger) { return svc, svc }))
	must(c.Provide(access.NewService))
	must(c.Provide(payment.NewService))

	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
