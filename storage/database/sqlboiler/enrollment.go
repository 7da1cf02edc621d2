package boiledrepos

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/storage/database"
)

const (
	enrollmentTable     = "enrollment"
	lessonProgressTable = "lesson_progress"
)

var (
	enrollmentColumns = []string{
		"id", "student_id", "class_id", "teacher_id", "status", "subscription_status", "current_month",
		"total_months_paid", "monthly_fee", "currency", "total_amount_paid", "has_access", "unlocked_months",
		"completed_lessons", "total_lessons", "completion_percentage", "last_accessed_lesson",
		"last_accessed_at", "total_time_spent", "enrollment_date", "last_payment_date", "next_payment_date",
		"cancelled_at", "cancellation_reason", "completed_at", "version", "created_at", "updated_at",
	}
	lessonProgressColumns = []string{
		"id", "student_id", "lesson_id", "class_id", "enrollment_id", "status", "completion_percentage",
		"last_watched_position", "total_watch_time", "is_completed", "completed_at", "first_accessed_at",
		"last_accessed_at", "created_at", "updated_at",
	}
)

type enrollmentRow struct {
	ID                   string          `boil:"id"`
	StudentID            string          `boil:"student_id"`
	ClassID              string          `boil:"class_id"`
	TeacherID            string          `boil:"teacher_id"`
	Status               string          `boil:"status"`
	SubscriptionStatus   string          `boil:"subscription_status"`
	CurrentMonth         int             `boil:"current_month"`
	TotalMonthsPaid      int             `boil:"total_months_paid"`
	MonthlyFee           decimal.Decimal `boil:"monthly_fee"`
	Currency             string          `boil:"currency"`
	TotalAmountPaid      decimal.Decimal `boil:"total_amount_paid"`
	HasAccess            bool            `boil:"has_access"`
	UnlockedMonths       pq.Int64Array   `boil:"unlocked_months"`
	CompletedLessons     pq.StringArray  `boil:"completed_lessons"`
	TotalLessons         int             `boil:"total_lessons"`
	CompletionPercentage float64         `boil:"completion_percentage"`
	LastAccessedLesson   null.String     `boil:"last_accessed_lesson"`
	LastAccessedAt       null.Time       `boil:"last_accessed_at"`
	TotalTimeSpent       int             `boil:"total_time_spent"`
	EnrollmentDate       time.Time       `boil:"enrollment_date"`
	LastPaymentDate      null.Time       `boil:"last_payment_date"`
	NextPaymentDate      null.Time       `boil:"next_payment_date"`
	CancelledAt          null.Time       `boil:"cancelled_at"`
	CancellationReason   null.String     `boil:"cancellation_reason"`
	CompletedAt          null.Time       `boil:"completed_at"`
	Version              int             `boil:"version"`
	CreatedAt            time.Time       `boil:"created_at"`
	UpdatedAt            time.Time       `boil:"updated_at"`
}

func (r *enrollmentRow) values() []interface{} {
	return []interface{}{
		r.ID, r.StudentID, r.ClassID, r.TeacherID, r.Status, r.SubscriptionStatus, r.CurrentMonth,
		r.TotalMonthsPaid, r.MonthlyFee, r.Currency, r.TotalAmountPaid, r.HasAccess, r.UnlockedMonths,
		r.CompletedLessons, r.TotalLessons, r.CompletionPercentage, r.LastAccessedLesson,
		r.LastAccessedAt, r.TotalTimeSpent, r.EnrollmentDate, r.LastPaymentDate, r.NextPaymentDate,
		r.CancelledAt, r.CancellationReason, r.CompletedAt, r.Version, r.CreatedAt, r.UpdatedAt,
	}
}

type lessonProgressRow struct {
	ID                   string    `boil:"id"`
	StudentID            string    `boil:"student_id"`
	LessonID             string    `boil:"lesson_id"`
	ClassID              string    `boil:"class_id"`
	EnrollmentID         string    `boil:"enrollment_id"`
	Status               string    `boil:"status"`
	CompletionPercentage float64   `boil:"completion_percentage"`
	LastWatchedPosition  int       `boil:"last_watched_position"`
	TotalWatchTime       int       `boil:"total_watch_time"`
	IsCompleted          bool      `boil:"is_completed"`
	CompletedAt          null.Time `boil:"completed_at"`
	FirstAccessedAt      time.Time `boil:"first_accessed_at"`
	LastAccessedAt       time.Time `boil:"last_accessed_at"`
	CreatedAt            time.Time `boil:"created_at"`
	UpdatedAt            time.Time `boil:"updated_at"`
}

func (r *lessonProgressRow) values() []interface{} {
	return []interface{}{
		r.ID, r.StudentID, r.LessonID, r.ClassID, r.EnrollmentID, r.Status, r.CompletionPercentage,
		r.LastWatchedPosition, r.TotalWatchTime, r.IsCompleted, r.CompletedAt, r.FirstAccessedAt,
		r.LastAccessedAt, r.CreatedAt, r.UpdatedAt,
	}
}

type enrollmentRepository struct {
	exec core.DBExecutor
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(exec core.DBExecutor) enrollment.Repository {
	return &enrollmentRepository{exec: exec}
}

func (repo enrollmentRepository) boil(e enrollment.Enrollment) *enrollmentRow {
	months := make(pq.Int64Array, 0, len(e.UnlockedMonths))
	for _, m := range e.UnlockedMonths {
		months = append(months, int64(m))
	}
	lessons := pq.StringArray(e.Progress.CompletedLessons)
	if lessons == nil {
		lessons = pq.StringArray{}
	}
	return &enrollmentRow{
		ID:                   e.ID,
		StudentID:            e.StudentID,
		ClassID:              e.ClassID,
		TeacherID:            e.TeacherID,
		Status:               string(e.Status),
		SubscriptionStatus:   string(e.SubscriptionStatus),
		CurrentMonth:         e.CurrentMonth,
		TotalMonthsPaid:      e.TotalMonthsPaid,
		MonthlyFee:           e.MonthlyFee,
		Currency:             e.Currency,
		TotalAmountPaid:      e.TotalAmountPaid,
		HasAccess:            e.HasAccess,
		UnlockedMonths:       months,
		CompletedLessons:     lessons,
		TotalLessons:         e.Progress.TotalLessons,
		CompletionPercentage: e.Progress.CompletionPercentage,
		LastAccessedLesson:   nullString(e.Progress.LastAccessedLesson),
		LastAccessedAt:       nullTime(e.Progress.LastAccessedAt),
		TotalTimeSpent:       e.Progress.TotalTimeSpent,
		EnrollmentDate:       e.EnrollmentDate.UTC(),
		LastPaymentDate:      nullTime(e.LastPaymentDate),
		NextPaymentDate:      nullTime(e.NextPaymentDate),
		CancelledAt:          nullTime(e.CancelledAt),
		CancellationReason:   nullString(e.CancellationReason),
		CompletedAt:          nullTime(e.CompletedAt),
		Version:              e.Version,
		CreatedAt:            e.CreatedAt.UTC(),
		UpdatedAt:            e.UpdatedAt.UTC(),
	}
}

func (repo enrollmentRepository) unboil(r *enrollmentRow) enrollment.Enrollment {
	months := make([]int, 0, len(r.UnlockedMonths))
	for _, m := range r.UnlockedMonths {
		months = append(months, int(m))
	}
	lessons := []string(r.CompletedLessons)
	if lessons == nil {
		lessons = []string{}
	}
	return enrollment.Enrollment{
		ID:                 r.ID,
		StudentID:          r.StudentID,
		ClassID:            r.ClassID,
		TeacherID:          r.TeacherID,
		Status:             enrollment.Status(r.Status),
		SubscriptionStatus: enrollment.SubscriptionStatus(r.SubscriptionStatus),
		CurrentMonth:       r.CurrentMonth,
		TotalMonthsPaid:    r.TotalMonthsPaid,
		MonthlyFee:         r.MonthlyFee,
		Currency:           r.Currency,
		TotalAmountPaid:    r.TotalAmountPaid,
		HasAccess:          r.HasAccess,
		UnlockedMonths:     months,
		Progress: enrollment.Progress{
			CompletedLessons:     lessons,
			TotalLessons:         r.TotalLessons,
			CompletionPercentage: r.CompletionPercentage,
			LastAccessedLesson:   r.LastAccessedLesson.String,
			LastAccessedAt:       r.LastAccessedAt.Time,
			TotalTimeSpent:       r.TotalTimeSpent,
		},
		EnrollmentDate:     r.EnrollmentDate,
		LastPaymentDate:    r.LastPaymentDate.Time,
		NextPaymentDate:    r.NextPaymentDate.Time,
		CancelledAt:        r.CancelledAt.Time,
		CancellationReason: r.CancellationReason.String,
		CompletedAt:        r.CompletedAt.Time,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (repo enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	if e.Version == 0 {
		e.Version = 1
	}
	row := repo.boil(e)
	if _, err := exec(ctx, repo.exec, insertQuery(enrollmentTable, enrollmentColumns), row.values()...); err != nil {
		if database.IsUniqueViolation(err, "enrollment_student_class_key") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return repo.unboil(row), nil
}

func (repo enrollmentRepository) DeleteEnrollment(ctx context.Context, id string) error {
	_, err := exec(ctx, repo.exec, `DELETE FROM enrollment WHERE id = $1`, id)
	return errors.Wrap(err, "deleting enrollment")
}

func (repo enrollmentRepository) GetEnrollment(ctx context.Context, id string) (enrollment.Enrollment, error) {
	if !validID(id) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	var row enrollmentRow
	if err := queries.Raw(`SELECT * FROM enrollment WHERE id = $1`, id).Bind(ctx, repo.exec, &row); err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment by ID")
	}
	return repo.unboil(&row), nil
}

func (repo enrollmentRepository) FindEnrollment(ctx context.Context, studentID, classID string) (enrollment.Enrollment, error) {
	if !validID(studentID) || !validID(classID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	var row enrollmentRow
	err := queries.Raw(
		`SELECT * FROM enrollment WHERE student_id = $1 AND class_id = $2`, studentID, classID,
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return enrollment.Enrollment{}, trapNoRowsErr(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return repo.unboil(&row), nil
}

func (repo enrollmentRepository) QueryEnrollments(ctx context.Context, filter enrollment.QueryFilter) ([]enrollment.Enrollment, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if filter.ClassID != "" {
		w.add("class_id = $%d", filter.ClassID)
	}
	if filter.TeacherID != "" {
		w.add("teacher_id = $%d", filter.TeacherID)
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.SubscriptionStatus != "" {
		w.add("subscription_status = $%d", string(filter.SubscriptionStatus))
	}
	if !filter.NextPaymentBefore.IsZero() {
		w.add("next_payment_date < $%d", filter.NextPaymentBefore.UTC())
	}

	var rows []*enrollmentRow
	q := `SELECT * FROM enrollment` + w.String() + orderBy(filter.Ordering, "enrollment_date DESC")
	if err := queries.Raw(q, w.args...).Bind(ctx, repo.exec, &rows); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrls := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrls = append(enrls, repo.unboil(row))
	}
	return enrls, nil
}

func (repo enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	expected := e.Version
	e.Version++
	row := repo.boil(e)

	cols := enrollmentColumns[1:]
	args := append(row.values()[1:], row.ID, expected)
	q := updateQuery(enrollmentTable, cols) + fmt.Sprintf(` AND "version"=$%d`, len(cols)+2)
	n, err := exec(ctx, repo.exec, q, args...)
	if err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n == 0 {
		if _, err = repo.GetEnrollment(ctx, e.ID); err != nil {
			return enrollment.Enrollment{}, err
		}
		return enrollment.Enrollment{}, enrollment.ErrStaleEnrollment
	}
	return repo.unboil(row), nil
}

func (repo enrollmentRepository) CountByClass(ctx context.Context) (map[string]catalog.Counters, error) {
	var rows []struct {
		ClassID string `boil:"class_id"`
		Total   int    `boil:"total"`
		Active  int    `boil:"active"`
	}
	err := queries.Raw(
		`SELECT class_id, COUNT(*) AS total, COUNT(*) FILTER (WHERE status = $1) AS active
		FROM enrollment GROUP BY class_id`,
		string(enrollment.StatusActive),
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "counting enrollments")
	}

	counts := make(map[string]catalog.Counters, len(rows))
	for _, row := range rows {
		counts[row.ClassID] = catalog.Counters{Total: row.Total, Active: row.Active}
	}
	return counts, nil
}

func (repo enrollmentRepository) GetLessonProgress(ctx context.Context, studentID, lessonID string) (enrollment.LessonProgress, error) {
	if !validID(studentID) || !validID(lessonID) {
		return enrollment.LessonProgress{}, enrollment.ErrProgressNotFound
	}
	var row lessonProgressRow
	err := queries.Raw(
		`SELECT * FROM lesson_progress WHERE student_id = $1 AND lesson_id = $2`, studentID, lessonID,
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return enrollment.LessonProgress{}, trapNoRowsErr(err, enrollment.ErrProgressNotFound, "finding lesson progress")
	}
	return unboilProgress(&row), nil
}

func (repo enrollmentRepository) SaveLessonProgress(ctx context.Context, lp enrollment.LessonProgress) (enrollment.LessonProgress, error) {
	row := &lessonProgressRow{
		ID:                   lp.ID,
		StudentID:            lp.StudentID,
		LessonID:             lp.LessonID,
		ClassID:              lp.ClassID,
		EnrollmentID:         lp.EnrollmentID,
		Status:               string(lp.Status),
		CompletionPercentage: lp.CompletionPercentage,
		LastWatchedPosition:  lp.LastWatchedPosition,
		TotalWatchTime:       lp.TotalWatchTime,
		IsCompleted:          lp.IsCompleted,
		CompletedAt:          nullTime(lp.CompletedAt),
		FirstAccessedAt:      lp.FirstAccessedAt.UTC(),
		LastAccessedAt:       lp.LastAccessedAt.UTC(),
		CreatedAt:            lp.CreatedAt.UTC(),
		UpdatedAt:            lp.UpdatedAt.UTC(),
	}

	var saved lessonProgressRow
	q := insertQuery(lessonProgressTable, lessonProgressColumns) + `
		ON CONFLICT ON CONSTRAINT lesson_progress_student_lesson_key DO UPDATE SET
			status = EXCLUDED.status,
			completion_percentage = EXCLUDED.completion_percentage,
			last_watched_position = EXCLUDED.last_watched_position,
			total_watch_time = EXCLUDED.total_watch_time,
			is_completed = EXCLUDED.is_completed,
			completed_at = EXCLUDED.completed_at,
			last_accessed_at = EXCLUDED.last_accessed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING *`
	if err := queries.Raw(q, row.values()...).Bind(ctx, repo.exec, &saved); err != nil {
		return enrollment.LessonProgress{}, errors.Wrap(err, "saving lesson progress")
	}
	return unboilProgress(&saved), nil
}

func unboilProgress(r *lessonProgressRow) enrollment.LessonProgress {
	return enrollment.LessonProgress{
		ID:                   r.ID,
		StudentID:            r.StudentID,
		LessonID:             r.LessonID,
		ClassID:              r.ClassID,
		EnrollmentID:         r.EnrollmentID,
		Status:               enrollment.ProgressStatus(r.Status),
		CompletionPercentage: r.CompletionPercentage,
		LastWatchedPosition:  r.LastWatchedPosition,
		TotalWatchTime:       r.TotalWatchTime,
		IsCompleted:          r.IsCompleted,
		CompletedAt:          r.CompletedAt.Time,
		FirstAccessedAt:      r.FirstAccessedAt,
		LastAccessedAt:       r.LastAccessedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
