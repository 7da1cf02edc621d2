package enrollment

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/user"
)

// MarkLessonComplete adds lessonID to the completed lessons of the principal's active enrollment in classID.
// Marking a lesson twice is the same as marking it once.
func (svc *Service) MarkLessonComplete(ctx context.Context, p user.Principal, classID, lessonID string) (Enrollment, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return Enrollment{}, err
	}
	lsn, err := svc.catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return Enrollment{}, err
	}
	if lsn.ClassID != classID {
		return Enrollment{}, catalog.ErrLessonNotFound
	}
	enrl, err := svc.activeEnrollment(ctx, p.ID, classID)
	if err != nil {
		return Enrollment{}, err
	}

	completed := true
	enrl, _, err = svc.applyProgress(ctx, enrl, lsn, ProgressUpdate{IsCompleted: &completed})
	return enrl, err
}

// UpdateProgress records a playback report for lessonID. Reaching 100% (or is_completed)
// completes the lesson the same way MarkLessonComplete does.
func (svc *Service) UpdateProgress(ctx context.Context, p user.Principal, lessonID string, upd ProgressUpdate) (LessonProgress, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return LessonProgress{}, err
	}
	lsn, err := svc.catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonProgress{}, err
	}
	enrl, err := svc.activeEnrollment(ctx, p.ID, lsn.ClassID)
	if err != nil {
		return LessonProgress{}, err
	}

	_, lp, err := svc.applyProgress(ctx, enrl, lsn, upd)
	return lp, err
}

// GetLessonProgress returns where the principal left lessonID; a lesson never opened is not_started.
func (svc *Service) GetLessonProgress(ctx context.Context, p user.Principal, lessonID string) (LessonProgress, error) {
	if err := user.RequireRole(p, user.RoleStudent); err != nil {
		return LessonProgress{}, err
	}
	lsn, err := svc.catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonProgress{}, err
	}
	lp, err := svc.repo.GetLessonProgress(ctx, p.ID, lsn.ID)
	if errors.Cause(err) == ErrProgressNotFound {
		return LessonProgress{StudentID: p.ID, LessonID: lsn.ID, ClassID: lsn.ClassID, Status: ProgressNotStarted}, nil
	}
	return lp, err
}

func (svc *Service) activeEnrollment(ctx context.Context, studentID, classID string) (Enrollment, error) {
	enrl, err := svc.repo.FindEnrollment(ctx, studentID, classID)
	if err != nil {
		return Enrollment{}, err
	}
	if !enrl.IsActive() {
		return Enrollment{}, ErrNotFound
	}
	return enrl, nil
}

// applyProgress is the single write path of lesson progress, shared by MarkLessonComplete & UpdateProgress.
func (svc *Service) applyProgress(ctx context.Context, enrl Enrollment, lsn catalog.Lesson, upd ProgressUpdate) (Enrollment, LessonProgress, error) {
	unlock := svc.locks.Lock(enrl.ID)
	defer unlock()

	// the enrollment may have been cancelled since it was looked up
	enrl, err := svc.repo.GetEnrollment(ctx, enrl.ID)
	if err != nil {
		return Enrollment{}, LessonProgress{}, err
	}
	if !enrl.IsActive() {
		return Enrollment{}, LessonProgress{}, ErrNotFound
	}

	now := NowFunc().UTC()
	lp, err := svc.repo.GetLessonProgress(ctx, enrl.StudentID, lsn.ID)
	if err != nil {
		if errors.Cause(err) != ErrProgressNotFound {
			return Enrollment{}, LessonProgress{}, errors.Wrap(err, "getting lesson progress")
		}
		lp = LessonProgress{
			ID:           uuid.New().String(),
			StudentID:    enrl.StudentID,
			LessonID:     lsn.ID,
			ClassID:      lsn.ClassID,
			EnrollmentID: enrl.ID,
			Status:       ProgressNotStarted,
			CreatedAt:    now,
		}
	}
	completed := lp.apply(upd, now)
	lp.UpdatedAt = now
	if lp, err = svc.repo.SaveLessonProgress(ctx, lp); err != nil {
		return Enrollment{}, LessonProgress{}, errors.Wrap(err, "saving lesson progress")
	}

	enrl, err = svc.mutateLocked(ctx, enrl.ID, func(e *Enrollment) (bool, error) {
		if !e.IsActive() {
			return false, ErrNotFound
		}
		e.touch(lsn.ID, now)
		if upd.WatchedSeconds != nil {
			e.Progress.TotalTimeSpent += *upd.WatchedSeconds
		}
		if completed {
			e.completeLesson(lsn.ID, now)
		}
		return true, nil
	})
	if err != nil {
		return Enrollment{}, LessonProgress{}, err
	}
	return enrl, lp, nil
}
