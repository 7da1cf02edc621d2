package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core/catalog"
)

type classRow struct {
	ID                string          `db:"id"`
	TeacherID         string          `db:"teacher_id"`
	Title             string          `db:"title"`
	MonthlyFee        decimal.Decimal `db:"monthly_fee"`
	Currency          string          `db:"currency"`
	Status            string          `db:"status"`
	TotalEnrollments  int             `db:"total_enrollments"`
	ActiveEnrollments int             `db:"active_enrollments"`
	TotalRevenue      decimal.Decimal `db:"total_revenue"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r classRow) class() catalog.Class {
	return catalog.Class{
		ID:                r.ID,
		TeacherID:         r.TeacherID,
		Title:             r.Title,
		MonthlyFee:        r.MonthlyFee,
		Currency:          r.Currency,
		Status:            catalog.ClassStatus(r.Status),
		TotalEnrollments:  r.TotalEnrollments,
		ActiveEnrollments: r.ActiveEnrollments,
		TotalRevenue:      r.TotalRevenue,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type lessonRow struct {
	ID          string    `db:"id"`
	ClassID     string    `db:"class_id"`
	TeacherID   string    `db:"teacher_id"`
	Title       string    `db:"title"`
	Position    int       `db:"position"`
	MonthNumber int       `db:"month_number"`
	IsFree      bool      `db:"is_free"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r lessonRow) lesson() catalog.Lesson {
	return catalog.Lesson{
		ID:          r.ID,
		ClassID:     r.ClassID,
		TeacherID:   r.TeacherID,
		Title:       r.Title,
		Order:       r.Position,
		MonthNumber: r.MonthNumber,
		IsFree:      r.IsFree,
		Status:      catalog.LessonStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type catalogRepository struct {
	db *sqlx.DB
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *sql.DB) catalog.Repository {
	return &catalogRepository{db: sqlx.NewDb(db, "postgres")}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (repo catalogRepository) CreateClass(ctx context.Context, cls catalog.Class) (catalog.Class, error) {
	row := classRow{
		ID:                cls.ID,
		TeacherID:         cls.TeacherID,
		Title:             cls.Title,
		MonthlyFee:        cls.MonthlyFee,
		Currency:          cls.Currency,
		Status:            string(cls.Status),
		TotalEnrollments:  cls.TotalEnrollments,
		ActiveEnrollments: cls.ActiveEnrollments,
		TotalRevenue:      cls.TotalRevenue,
		CreatedAt:         cls.CreatedAt.UTC(),
		UpdatedAt:         cls.UpdatedAt.UTC(),
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO class (id, teacher_id, title, monthly_fee, currency, status, total_enrollments,
			active_enrollments, total_revenue, created_at, updated_at)
		VALUES (:id, :teacher_id, :title, :monthly_fee, :currency, :status, :total_enrollments,
			:active_enrollments, :total_revenue, :created_at, :updated_at)`, row)
	if err != nil {
		return catalog.Class{}, errors.Wrap(err, "inserting class")
	}
	return row.class(), nil
}

func (repo catalogRepository) CreateLesson(ctx context.Context, lsn catalog.Lesson) (catalog.Lesson, error) {
	row := lessonRow{
		ID:          lsn.ID,
		ClassID:     lsn.ClassID,
		TeacherID:   lsn.TeacherID,
		Title:       lsn.Title,
		Position:    lsn.Order,
		MonthNumber: lsn.MonthNumber,
		IsFree:      lsn.IsFree,
		Status:      string(lsn.Status),
		CreatedAt:   lsn.CreatedAt.UTC(),
		UpdatedAt:   lsn.UpdatedAt.UTC(),
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO lesson (id, class_id, teacher_id, title, position, month_number, is_free, status,
			created_at, updated_at)
		VALUES (:id, :class_id, :teacher_id, :title, :position, :month_number, :is_free, :status,
			:created_at, :updated_at)`, row)
	if err != nil {
		return catalog.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return row.lesson(), nil
}

func (repo catalogRepository) GetClass(ctx context.Context, id string) (catalog.Class, error) {
	if !validID(id) {
		return catalog.Class{}, catalog.ErrClassNotFound
	}
	var row classRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM class WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return catalog.Class{}, catalog.ErrClassNotFound
		}
		return catalog.Class{}, errors.Wrap(err, "finding class")
	}
	return row.class(), nil
}

func (repo catalogRepository) GetLesson(ctx context.Context, id string) (catalog.Lesson, error) {
	if !validID(id) {
		return catalog.Lesson{}, catalog.ErrLessonNotFound
	}
	var row lessonRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM lesson WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return catalog.Lesson{}, catalog.ErrLessonNotFound
		}
		return catalog.Lesson{}, errors.Wrap(err, "finding lesson")
	}
	return row.lesson(), nil
}

func (repo catalogRepository) QueryClasses(ctx context.Context) ([]catalog.Class, error) {
	var rows []classRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM class ORDER BY created_at`); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]catalog.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, row.class())
	}
	return classes, nil
}

func (repo catalogRepository) QueryPublishedLessons(ctx context.Context, classID string) ([]catalog.Lesson, error) {
	var rows []lessonRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM lesson WHERE class_id = $1 AND status = $2 ORDER BY month_number, position`,
		classID, string(catalog.LessonPublished))
	if err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}
	lessons := make([]catalog.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, row.lesson())
	}
	return lessons, nil
}

func (repo catalogRepository) CountPublishedLessons(ctx context.Context, classID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM lesson WHERE class_id = $1 AND status = $2`,
		classID, string(catalog.LessonPublished))
	return count, errors.Wrap(err, "counting lessons")
}

func (repo catalogRepository) AdjustEnrollmentCounters(ctx context.Context, classID string, totalDelta, activeDelta int) error {
	return repo.updateClass(ctx, `
		UPDATE class SET
			total_enrollments = GREATEST(total_enrollments + $2, 0),
			active_enrollments = GREATEST(active_enrollments + $3, 0),
			updated_at = now()
		WHERE id = $1`, classID, totalDelta, activeDelta)
}

func (repo catalogRepository) SetEnrollmentCounters(ctx context.Context, classID string, counters catalog.Counters) error {
	return repo.updateClass(ctx, `
		UPDATE class SET total_enrollments = $2, active_enrollments = $3, updated_at = now() WHERE id = $1`,
		classID, counters.Total, counters.Active)
}

func (repo catalogRepository) AddRevenue(ctx context.Context, classID string, amount decimal.Decimal) error {
	return repo.updateClass(ctx, `
		UPDATE class SET total_revenue = total_revenue + $2, updated_at = now() WHERE id = $1`,
		classID, amount)
}

func (repo catalogRepository) updateClass(ctx context.Context, query string, classID string, args ...interface{}) error {
	res, err := repo.db.ExecContext(ctx, query, append([]interface{}{classID}, args...)...)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrClassNotFound
	}
	return nil
}
