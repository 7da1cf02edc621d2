package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrClassNotFound     = core.NewNotFoundError("class")
	ErrLessonNotFound    = core.NewNotFoundError("lesson")
	ErrClassNotAvailable = core.NewInvalidStateError("class is not available for enrollment")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		CreateLesson(ctx context.Context, lsn Lesson) (Lesson, error)
		GetClass(ctx context.Context, id string) (Class, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		QueryClasses(ctx context.Context) ([]Class, error)
		QueryPublishedLessons(ctx context.Context, classID string) ([]Lesson, error)
		CountPublishedLessons(ctx context.Context, classID string) (int, error)
		// AdjustEnrollmentCounters adds the deltas to the class counters, flooring them at 0.
		AdjustEnrollmentCounters(ctx context.Context, classID string, totalDelta, activeDelta int) error
		SetEnrollmentCounters(ctx context.Context, classID string, counters Counters) error
		AddRevenue(ctx context.Context, classID string, amount decimal.Decimal) error
	}

	Service struct {
		repo     Repository
		currency string
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, currency: conf.Payment.Currency}
}

func (svc *Service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	nc.Clean()
	if nc.Currency == "" {
		nc.Currency = svc.currency
	}
	status := ClassDraft
	if nc.Publish {
		status = ClassPublished
	}
	now := NowFunc().UTC()
	return svc.repo.CreateClass(ctx, Class{
		ID:           uuid.New().String(),
		TeacherID:    nc.TeacherID,
		Title:        nc.Title,
		MonthlyFee:   nc.MonthlyFee.Round(2),
		Currency:     strings.ToUpper(nc.Currency),
		Status:       status,
		TotalRevenue: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *Service) CreateLesson(ctx context.Context, nl NewLesson) (Lesson, error) {
	cls, err := svc.repo.GetClass(ctx, nl.ClassID)
	if err != nil {
		return Lesson{}, err
	}
	if nl.MonthNumber < 1 {
		return Lesson{}, core.NewValidationError(nil, core.FieldError{Field: "month_number", Error: "must be 1 or greater"})
	}
	status := LessonDraft
	if nl.Publish {
		status = LessonPublished
	}
	now := NowFunc().UTC()
	return svc.repo.CreateLesson(ctx, Lesson{
		ID:          uuid.New().String(),
		ClassID:     cls.ID,
		TeacherID:   cls.TeacherID,
		Title:       core.CleanString(nl.Title),
		Order:       nl.Order,
		MonthNumber: nl.MonthNumber,
		IsFree:      nl.IsFree,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *Service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return svc.repo.GetLesson(ctx, id)
}

// ListClasses returns every class, whatever its status.
func (svc *Service) ListClasses(ctx context.Context) ([]Class, error) {
	return svc.repo.QueryClasses(ctx)
}

func (svc *Service) ListPublishedLessons(ctx context.Context, classID string) ([]Lesson, error) {
	if _, err := svc.repo.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return svc.repo.QueryPublishedLessons(ctx, classID)
}

func (svc *Service) CountPublishedLessons(ctx context.Context, classID string) (int, error) {
	return svc.repo.CountPublishedLessons(ctx, classID)
}

// RecordEnrollment counts a new (active) enrollment on the class.
func (svc *Service) RecordEnrollment(ctx context.Context, classID string) error {
	return errors.Wrap(svc.repo.AdjustEnrollmentCounters(ctx, classID, 1, 1), "incrementing enrollment counters")
}

// ReleaseEnrollment compensates RecordEnrollment.
func (svc *Service) ReleaseEnrollment(ctx context.Context, classID string) error {
	return errors.Wrap(svc.repo.AdjustEnrollmentCounters(ctx, classID, -1, -1), "decrementing enrollment counters")
}

// RecordCancellation decrements the active enrollments (floored at 0).
func (svc *Service) RecordCancellation(ctx context.Context, classID string) error {
	return errors.Wrap(svc.repo.AdjustEnrollmentCounters(ctx, classID, 0, -1), "decrementing active enrollments")
}

func (svc *Service) SetEnrollmentCounters(ctx context.Context, classID string, counters Counters) error {
	return errors.Wrap(svc.repo.SetEnrollmentCounters(ctx, classID, counters), "setting enrollment counters")
}

func (svc *Service) AddRevenue(ctx context.Context, classID string, amount decimal.Decimal) error {
	return errors.Wrap(svc.repo.AddRevenue(ctx, classID, amount), "adding class revenue")
}
