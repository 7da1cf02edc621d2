// Package testutil builds the fixtures shared by the service & API tests, on top of the in-memory database.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/access"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
	gatewaysvc "github.com/trezcool/darasa/services/gateway"
	dummydb "github.com/trezcool/darasa/storage/database/dummy"
)

// Env is a fully wired set of services over a fresh in-memory database.
type Env struct {
	Conf     *core.Config
	Logger   *Logger
	Notifier *notify.Recorder
	Gateway  payment.Gateway

	UserRepo       user.Repository
	CatalogRepo    catalog.Repository
	EnrollmentRepo enrollment.Repository
	PaymentRepo    payment.Repository

	UserSvc       *user.Service
	CatalogSvc    *catalog.Service
	EnrollmentSvc *enrollment.Service
	AccessSvc     *access.Service
	PaymentSvc    *payment.Service
}

// NewEnv wires every service. Settlement goes through ledger when given (eg. a failing fake).
func NewEnv(t *testing.T, ledger ...payment.Ledger) *Env {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}

	env := &Env{
		Conf:           core.NewTestConfig(),
		Logger:         new(Logger),
		Notifier:       new(notify.Recorder),
		Gateway:        gatewaysvc.NewMockGateway(),
		UserRepo:       dummydb.NewUserRepository(db),
		CatalogRepo:    dummydb.NewCatalogRepository(db),
		EnrollmentRepo: dummydb.NewEnrollmentRepository(db),
		PaymentRepo:    dummydb.NewPaymentRepository(db),
	}
	env.UserSvc = user.NewService(env.UserRepo)
	env.CatalogSvc = catalog.NewService(env.CatalogRepo, env.Conf)
	env.EnrollmentSvc = enrollment.NewService(env.EnrollmentRepo, env.CatalogSvc, env.UserSvc, env.Notifier, env.Conf, env.Logger)
	env.AccessSvc = access.NewService(env.EnrollmentSvc, env.CatalogSvc)

	var pmtLedger payment.Ledger = env.EnrollmentSvc
	if len(ledger) > 0 {
		pmtLedger = ledger[0]
	}
	env.PaymentSvc = payment.NewService(env.PaymentRepo, pmtLedger, env.CatalogSvc, env.Gateway, env.Notifier, env.Conf, env.Logger)
	return env
}

func (env *Env) Student(t *testing.T, uname string) user.User {
	return CreateUser(t, env.UserRepo, uname, uname, uname+"@test.cd", "", []string{user.RoleStudent}, true)
}

func (env *Env) Teacher(t *testing.T, uname string) user.User {
	return CreateUser(t, env.UserRepo, uname, uname, uname+"@test.cd", "", []string{user.RoleTeacher}, true)
}

func (env *Env) Admin(t *testing.T, uname string) user.User {
	return CreateUser(t, env.UserRepo, uname, uname, uname+"@test.cd", "", []string{user.RoleAdmin}, true)
}

// Class creates a published class of teacher with lessons published lessons, lessonsPerMonth per month.
// The first lesson is free.
func (env *Env) Class(t *testing.T, teacher user.User, fee string, lessons, lessonsPerMonth int) (catalog.Class, []catalog.Lesson) {
	cls := CreateClass(t, env.CatalogSvc, teacher.ID, "Class of "+teacher.Name, fee, true)
	lsns := make([]catalog.Lesson, 0, lessons)
	for i := 0; i < lessons; i++ {
		month := i/lessonsPerMonth + 1
		lsns = append(lsns, CreateLesson(t, env.CatalogSvc, cls.ID, i+1, month, i == 0, true))
	}
	return cls, lsns
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateClass(t *testing.T, svc *catalog.Service, teacherID, title, fee string, publish bool) catalog.Class {
	cls, err := svc.CreateClass(context.Background(), catalog.NewClass{
		TeacherID:  teacherID,
		Title:      title,
		MonthlyFee: decimal.RequireFromString(fee),
		Publish:    publish,
	})
	if err != nil {
		t.Fatalf("createClass() failed: %v", err)
	}
	return cls
}

func CreateLesson(t *testing.T, svc *catalog.Service, classID string, order, month int, isFree, publish bool) catalog.Lesson {
	lsn, err := svc.CreateLesson(context.Background(), catalog.NewLesson{
		ClassID:     classID,
		Title:       fmt.Sprintf("Lesson %d", order),
		Order:       order,
		MonthNumber: month,
		IsFree:      isFree,
		Publish:     publish,
	})
	if err != nil {
		t.Fatalf("createLesson() failed: %v", err)
	}
	return lsn
}

// Logger is a core.Logger keeping every entry in memory.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Args    []interface{}
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Args: args})
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Entries returns the entries logged at level.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []LogEntry
	for _, e := range l.entries {
		if e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}
