package access

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/user"
)

var ErrInvalidMonth = core.NewValidationError(nil, core.FieldError{Field: "month", Error: "must be 1 or greater"})

type (
	LessonAccess struct {
		Lesson    catalog.Lesson `json:"lesson"`
		HasAccess bool           `json:"has_access"`
		Reason    Reason         `json:"reason"`
	}

	MonthAccess struct {
		ClassID    string `json:"class_id"`
		Month      int    `json:"month"`
		IsEnrolled bool   `json:"is_enrolled"`
		HasAccess  bool   `json:"has_access"`
	}

	Ledger interface {
		FindForStudentClass(ctx context.Context, studentID, classID string) (enrollment.Enrollment, error)
		RecordAccess(ctx context.Context, enrollmentID, lessonID string)
	}

	Catalog interface {
		GetClass(ctx context.Context, id string) (catalog.Class, error)
		GetLesson(ctx context.Context, id string) (catalog.Lesson, error)
		ListPublishedLessons(ctx context.Context, classID string) ([]catalog.Lesson, error)
	}

	Service struct {
		ledger  Ledger
		catalog Catalog
	}
)

func NewService(ledger Ledger, cat Catalog) *Service {
	return &Service{ledger: ledger, catalog: cat}
}

// CheckLessonAccess decides on a single lesson and records the access when it is granted.
func (svc *Service) CheckLessonAccess(ctx context.Context, p user.Principal, lessonID string) (LessonAccess, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return LessonAccess{}, err
	}
	lsn, err := svc.catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonAccess{}, err
	}
	if !lsn.IsPublished() {
		return LessonAccess{Lesson: lsn, Reason: ReasonUnpublished}, nil
	}
	enrl, err := svc.enrollment(ctx, p.ID, lsn.ClassID)
	if err != nil {
		return LessonAccess{}, err
	}

	ok, reason := decide(enrl, lsn)
	if ok {
		svc.ledger.RecordAccess(ctx, enrl.ID, lsn.ID)
	}
	return LessonAccess{Lesson: lsn, HasAccess: ok, Reason: reason}, nil
}

// ListLessonAccess decides on every published lesson of classID at once.
func (svc *Service) ListLessonAccess(ctx context.Context, p user.Principal, classID string) ([]LessonAccess, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return nil, err
	}
	lessons, err := svc.catalog.ListPublishedLessons(ctx, classID)
	if err != nil {
		return nil, err
	}
	enrl, err := svc.enrollment(ctx, p.ID, classID)
	if err != nil {
		return nil, err
	}

	res := make([]LessonAccess, len(lessons))
	for i, lsn := range lessons {
		ok, reason := decide(enrl, lsn)
		res[i] = LessonAccess{Lesson: lsn, HasAccess: ok, Reason: reason}
	}
	return res, nil
}

// CheckMonthAccess tells whether the principal's paid lessons of month are unlocked in classID.
func (svc *Service) CheckMonthAccess(ctx context.Context, p user.Principal, classID string, month int) (MonthAccess, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return MonthAccess{}, err
	}
	if month < 1 {
		return MonthAccess{}, ErrInvalidMonth
	}
	if _, err := svc.catalog.GetClass(ctx, classID); err != nil {
		return MonthAccess{}, err
	}
	enrl, err := svc.enrollment(ctx, p.ID, classID)
	if err != nil {
		return MonthAccess{}, err
	}

	res := MonthAccess{ClassID: classID, Month: month, IsEnrolled: enrl != nil}
	res.HasAccess = enrl != nil && enrl.IsActive() && enrl.IsMonthUnlocked(month)
	return res, nil
}

// enrollment returns nil (and no error) if the student is not enrolled in classID.
func (svc *Service) enrollment(ctx context.Context, studentID, classID string) (*enrollment.Enrollment, error) {
	enrl, err := svc.ledger.FindForStudentClass(ctx, studentID, classID)
	if err != nil {
		if errors.Cause(err) == enrollment.ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "finding enrollment")
	}
	return &enrl, nil
}
