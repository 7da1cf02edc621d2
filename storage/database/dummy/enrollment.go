package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
)

type enrollmentRepository struct {
	db       *enrollmentTable
	progress *progressTable
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db.enrollment, progress: db.progress}
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, enrl := range repo.db.table {
		if enrl.StudentID == e.StudentID && enrl.ClassID == e.ClassID {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
	}
	if e.Version == 0 {
		e.Version = 1
	}
	e = e.Copy()
	repo.db.table[e.ID] = &e
	return e.Copy(), nil
}

func (repo *enrollmentRepository) DeleteEnrollment(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	delete(repo.db.table, id)
	return nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, id string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if e, ok := repo.db.table[id]; ok {
		return e.Copy(), nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) FindEnrollment(_ context.Context, studentID, classID string) (enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	for _, e := range repo.db.table {
		if e.StudentID == studentID && e.ClassID == classID {
			return e.Copy(), nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter enrollment.QueryFilter) ([]enrollment.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrls := make([]enrollment.Enrollment, 0)
	for _, e := range repo.db.table {
		if matchEnrollment(e, filter) {
			enrls = append(enrls, e.Copy())
		}
	}
	sortEnrollments(enrls, filter.Ordering)
	return enrls, nil
}

func matchEnrollment(e *enrollment.Enrollment, filter enrollment.QueryFilter) bool {
	switch {
	case filter.StudentID != "" && e.StudentID != filter.StudentID,
		filter.ClassID != "" && e.ClassID != filter.ClassID,
		filter.TeacherID != "" && e.TeacherID != filter.TeacherID,
		filter.Status != "" && e.Status != filter.Status,
		filter.SubscriptionStatus != "" && e.SubscriptionStatus != filter.SubscriptionStatus:
		return false
	case !filter.NextPaymentBefore.IsZero():
		return !e.NextPaymentDate.IsZero() && e.NextPaymentDate.Before(filter.NextPaymentBefore)
	}
	return true
}

// sortEnrollments sorts on the first ordering only; enrollment date descending by default.
func sortEnrollments(enrls []enrollment.Enrollment, ordering []core.DBOrdering) {
	ord := core.DBOrdering{Field: "enrollment_date"}
	if len(ordering) > 0 {
		ord = ordering[0]
	}
	sort.SliceStable(enrls, func(i, j int) bool {
		a, b := enrls[i], enrls[j]
		if !ord.Ascending {
			a, b = b, a
		}
		switch ord.Field {
		case "next_payment_date":
			return a.NextPaymentDate.Before(b.NextPaymentDate)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		default:
			return a.EnrollmentDate.Before(b.EnrollmentDate)
		}
	})
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[e.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	if stored.Version != e.Version {
		return enrollment.Enrollment{}, enrollment.ErrStaleEnrollment
	}
	e.Version++
	e = e.Copy()
	repo.db.table[e.ID] = &e
	return e.Copy(), nil
}

func (repo *enrollmentRepository) CountByClass(_ context.Context) (map[string]catalog.Counters, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := make(map[string]catalog.Counters)
	for _, e := range repo.db.table {
		c := counts[e.ClassID]
		c.Total++
		if e.IsActive() {
			c.Active++
		}
		counts[e.ClassID] = c
	}
	return counts, nil
}

func progressKey(studentID, lessonID string) string {
	return studentID + "/" + lessonID
}

func (repo *enrollmentRepository) GetLessonProgress(_ context.Context, studentID, lessonID string) (enrollment.LessonProgress, error) {
	repo.progress.RLock()
	defer repo.progress.RUnlock()
	if lp, ok := repo.progress.table[progressKey(studentID, lessonID)]; ok {
		return *lp, nil
	}
	return enrollment.LessonProgress{}, enrollment.ErrProgressNotFound
}

func (repo *enrollmentRepository) SaveLessonProgress(_ context.Context, lp enrollment.LessonProgress) (enrollment.LessonProgress, error) {
	repo.progress.Lock()
	defer repo.progress.Unlock()

	key := progressKey(lp.StudentID, lp.LessonID)
	if stored, ok := repo.progress.table[key]; ok {
		lp.ID = stored.ID
		lp.CreatedAt = stored.CreatedAt
	}
	repo.progress.table[key] = &lp
	return lp, nil
}
