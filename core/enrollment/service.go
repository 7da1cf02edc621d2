package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/user"
)

const maxWriteAttempts = 3

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("enrollment")
	ErrProgressNotFound = core.NewNotFoundError("lesson progress")
	ErrAlreadyEnrolled  = core.NewConflictError("student is already enrolled in this class")
	ErrNotOwner         = core.NewForbiddenError("enrollment belongs to another student")
	ErrAlreadyCancelled = core.NewInvalidStateError("enrollment is already cancelled")
	ErrStaleEnrollment  = core.NewConflictError("enrollment was modified concurrently")
	ErrInvalidMonth     = core.NewValidationError(nil, core.FieldError{Field: "month", Error: "must be 1 or greater"})

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CreateEnrollment returns ErrAlreadyEnrolled if (student, class) is taken.
		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		DeleteEnrollment(ctx context.Context, id string) error
		GetEnrollment(ctx context.Context, id string) (Enrollment, error)
		FindEnrollment(ctx context.Context, studentID, classID string) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter QueryFilter) ([]Enrollment, error)
		// UpdateEnrollment persists e if the stored version still is e.Version, and bumps the version.
		// It returns ErrStaleEnrollment otherwise.
		UpdateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		CountByClass(ctx context.Context) (map[string]catalog.Counters, error)

		GetLessonProgress(ctx context.Context, studentID, lessonID string) (LessonProgress, error)
		// SaveLessonProgress upserts on (student, lesson).
		SaveLessonProgress(ctx context.Context, lp LessonProgress) (LessonProgress, error)
	}

	// Catalog is what the ledger needs from the class catalog.
	Catalog interface {
		GetClass(ctx context.Context, id string) (catalog.Class, error)
		GetLesson(ctx context.Context, id string) (catalog.Lesson, error)
		CountPublishedLessons(ctx context.Context, classID string) (int, error)
		RecordEnrollment(ctx context.Context, classID string) error
		ReleaseEnrollment(ctx context.Context, classID string) error
		RecordCancellation(ctx context.Context, classID string) error
		SetEnrollmentCounters(ctx context.Context, classID string, counters catalog.Counters) error
		ListClasses(ctx context.Context) ([]catalog.Class, error)
	}

	Service struct {
		repo             Repository
		catalog          Catalog
		users            user.Directory
		notifier         notify.Dispatcher
		logger           core.Logger
		locks            *core.KeyedMutex
		nextPaymentDelta time.Duration
		gracePeriod      time.Duration
	}
)

func NewService(
	repo Repository,
	cat Catalog,
	users user.Directory,
	notifier notify.Dispatcher,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:             repo,
		catalog:          cat,
		users:            users,
		notifier:         notifier,
		logger:           logger,
		locks:            core.NewKeyedMutex(),
		nextPaymentDelta: conf.Payment.NextPaymentDelta,
		gracePeriod:      conf.Subscription.GracePeriod,
	}
}

// Enroll creates the enrollment of the principal (a student) in classID.
// The class and user counters are updated too; a failing step undoes the previous ones.
func (svc *Service) Enroll(ctx context.Context, p user.Principal, classID string) (Enrollment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return Enrollment{}, err
	}
	cls, err := svc.catalog.GetClass(ctx, classID)
	if err != nil {
		return Enrollment{}, err
	}
	if !cls.IsPublished() {
		return Enrollment{}, catalog.ErrClassNotAvailable
	}
	if _, err = svc.repo.FindEnrollment(ctx, p.ID, classID); err == nil {
		return Enrollment{}, ErrAlreadyEnrolled
	} else if errors.Cause(err) != ErrNotFound {
		return Enrollment{}, errors.Wrap(err, "finding enrollment")
	}
	total, err := svc.catalog.CountPublishedLessons(ctx, classID)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "counting lessons")
	}

	now := NowFunc().UTC()
	enrl, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		ID:                 uuid.New().String(),
		StudentID:          p.ID,
		ClassID:            cls.ID,
		TeacherID:          cls.TeacherID,
		Status:             StatusActive,
		SubscriptionStatus: SubscriptionActive,
		CurrentMonth:       1,
		MonthlyFee:         cls.MonthlyFee,
		Currency:           cls.Currency,
		TotalAmountPaid:    decimal.Zero,
		UnlockedMonths:     []int{},
		Progress:           Progress{CompletedLessons: []string{}, TotalLessons: total},
		EnrollmentDate:     now,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	})
	if err != nil {
		return Enrollment{}, err
	}

	if err = svc.catalog.RecordEnrollment(ctx, cls.ID); err != nil {
		svc.compensateEnroll(ctx, enrl, false)
		return Enrollment{}, err
	}
	if err = svc.users.RecordEnrollment(ctx, p.ID, cls.TeacherID, cls.ID); err != nil {
		svc.compensateEnroll(ctx, enrl, true)
		return Enrollment{}, err
	}

	svc.notifier.Dispatch(ctx, notify.Event{
		Type:        notify.EnrollmentConfirmation,
		UserID:      p.ID,
		Title:       "Enrollment confirmed",
		Message:     fmt.Sprintf("You are now enrolled in %s.", cls.Title),
		RelatedID:   enrl.ID,
		RelatedType: "enrollment",
	})
	return enrl, nil
}

func (svc *Service) compensateEnroll(ctx context.Context, enrl Enrollment, countersRecorded bool) {
	if countersRecorded {
		if err := svc.catalog.ReleaseEnrollment(ctx, enrl.ClassID); err != nil {
			svc.logger.Error("compensating class counters", err, map[string]interface{}{"enrollment_id": enrl.ID})
		}
	}
	if err := svc.repo.DeleteEnrollment(ctx, enrl.ID); err != nil {
		svc.logger.Error("compensating enrollment", err, map[string]interface{}{"enrollment_id": enrl.ID})
	}
}

// UnlockMonth grants access to month. Unlocking an unlocked month changes nothing.
func (svc *Service) UnlockMonth(ctx context.Context, enrollmentID string, month int) (Enrollment, error) {
	if month < 1 {
		return Enrollment{}, ErrInvalidMonth
	}
	return svc.mutate(ctx, enrollmentID, func(e *Enrollment) (bool, error) {
		return e.unlock(month), nil
	})
}

// ApplySettlement records a completed payment of amount for month.
// It is a no-op if month is already unlocked, so replays never count the amount twice.
func (svc *Service) ApplySettlement(ctx context.Context, enrollmentID string, month int, amount decimal.Decimal, paidAt time.Time) (Enrollment, error) {
	if month < 1 {
		return Enrollment{}, ErrInvalidMonth
	}
	return svc.mutate(ctx, enrollmentID, func(e *Enrollment) (bool, error) {
		if !e.unlock(month) {
			return false, nil
		}
		e.TotalAmountPaid = e.TotalAmountPaid.Add(amount)
		e.LastPaymentDate = paidAt
		e.NextPaymentDate = paidAt.Add(svc.nextPaymentDelta)
		e.SubscriptionStatus = SubscriptionActive
		return true, nil
	})
}

func (svc *Service) Cancel(ctx context.Context, p user.Principal, enrollmentID, reason string) (Enrollment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return Enrollment{}, err
	}
	enrl, err := svc.mutate(ctx, enrollmentID, func(e *Enrollment) (bool, error) {
		if e.StudentID != p.ID {
			return false, ErrNotOwner
		}
		if e.Status == StatusCancelled {
			return false, ErrAlreadyCancelled
		}
		e.Status = StatusCancelled
		e.SubscriptionStatus = SubscriptionCancelled
		e.CancelledAt = NowFunc().UTC()
		e.CancellationReason = core.CleanString(reason)
		return true, nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	if err = svc.catalog.RecordCancellation(ctx, enrl.ClassID); err != nil {
		svc.logger.Error("decrementing class active enrollments", err, map[string]interface{}{"enrollment_id": enrl.ID})
	}
	return enrl, nil
}

// RecordAccess stamps the last accessed lesson. Errors are only logged.
func (svc *Service) RecordAccess(ctx context.Context, enrollmentID, lessonID string) {
	_, err := svc.mutate(ctx, enrollmentID, func(e *Enrollment) (bool, error) {
		e.touch(lessonID, NowFunc().UTC())
		return true, nil
	})
	if err != nil {
		svc.logger.Warn("recording lesson access", err, map[string]interface{}{
			"enrollment_id": enrollmentID,
			"lesson_id":     lessonID,
		})
	}
}

// Get returns the enrollment if the principal is its student, the class teacher or an admin.
func (svc *Service) Get(ctx context.Context, p user.Principal, id string) (Enrollment, error) {
	enrl, err := svc.repo.GetEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if canView(p, enrl) {
		return enrl, nil
	}
	return Enrollment{}, ErrNotOwner
}

func canView(p user.Principal, enrl Enrollment) bool {
	switch {
	case p.ID == "":
		return false
	case p.IsAdmin():
		return true
	case p.IsTeacher() && enrl.TeacherID == p.ID:
		return true
	default:
		return enrl.StudentID == p.ID
	}
}

// GetByID loads an enrollment without any ownership check.
func (svc *Service) GetByID(ctx context.Context, id string) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, id)
}

func (svc *Service) ListForStudent(ctx context.Context, p user.Principal, ordering ...core.DBOrdering) ([]Enrollment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return nil, err
	}
	return svc.repo.QueryEnrollments(ctx, QueryFilter{
		StudentID: p.ID,
		Ordering:  core.CleanOrderings(ordering, Orderings),
	})
}

// FindForStudentClass returns the enrollment of studentID in classID.
func (svc *Service) FindForStudentClass(ctx context.Context, studentID, classID string) (Enrollment, error) {
	return svc.repo.FindEnrollment(ctx, studentID, classID)
}

// ExpireLapsed marks the subscription of active enrollments whose next payment is overdue
// (past the grace period) as expired. Already unlocked months stay accessible.
func (svc *Service) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-svc.gracePeriod)
	enrls, err := svc.repo.QueryEnrollments(ctx, QueryFilter{
		Status:             StatusActive,
		SubscriptionStatus: SubscriptionActive,
		NextPaymentBefore:  cutoff,
	})
	if err != nil {
		return 0, errors.Wrap(err, "querying lapsed enrollments")
	}

	var expired int
	for _, enrl := range enrls {
		var changed bool
		_, err = svc.mutate(ctx, enrl.ID, func(e *Enrollment) (bool, error) {
			changed = e.SubscriptionStatus == SubscriptionActive && lapsed(e, cutoff)
			if changed {
				e.SubscriptionStatus = SubscriptionExpired
			}
			return changed, nil
		})
		if err != nil {
			return expired, errors.Wrapf(err, "expiring enrollment %s", enrl.ID)
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func lapsed(e *Enrollment, cutoff time.Time) bool {
	return !e.NextPaymentDate.IsZero() && e.NextPaymentDate.Before(cutoff)
}

// RecountCounters recomputes the enrollment counters of every class, and the student counters of
// their teachers, from the enrollment records. Classes without enrollments are reset to zero.
func (svc *Service) RecountCounters(ctx context.Context) (int, error) {
	classes, err := svc.catalog.ListClasses(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing classes")
	}
	counts, err := svc.repo.CountByClass(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "counting enrollments")
	}

	students := make(map[string]int)
	for _, cls := range classes {
		counters := counts[cls.ID]
		if err = svc.catalog.SetEnrollmentCounters(ctx, cls.ID, counters); err != nil {
			return 0, errors.Wrapf(err, "recounting class %s", cls.ID)
		}
		students[cls.TeacherID] += counters.Total
	}
	for teacherID, total := range students {
		if err = svc.users.SetTotalStudents(ctx, teacherID, total); err != nil {
			return 0, errors.Wrapf(err, "recounting teacher %s", teacherID)
		}
	}
	return len(classes), nil
}

// mutate applies fn to the stored enrollment under its lock and persists the result.
func (svc *Service) mutate(ctx context.Context, id string, fn func(e *Enrollment) (bool, error)) (Enrollment, error) {
	unlock := svc.locks.Lock(id)
	defer unlock()
	return svc.mutateLocked(ctx, id, fn)
}

// mutateLocked is mutate for callers already holding the enrollment lock.
// fn reporting no change skips the write. Stale writes are retried on a fresh read.
func (svc *Service) mutateLocked(ctx context.Context, id string, fn func(e *Enrollment) (bool, error)) (Enrollment, error) {
	for attempt := 1; ; attempt++ {
		enrl, err := svc.repo.GetEnrollment(ctx, id)
		if err != nil {
			return Enrollment{}, err
		}
		changed, err := fn(&enrl)
		if err != nil {
			return Enrollment{}, err
		}
		if !changed {
			return enrl, nil
		}

		enrl.UpdatedAt = NowFunc().UTC()
		updated, err := svc.repo.UpdateEnrollment(ctx, enrl)
		if errors.Cause(err) == ErrStaleEnrollment && attempt < maxWriteAttempts {
			continue
		}
		if err != nil {
			return Enrollment{}, err
		}
		return updated, nil
	}
}
