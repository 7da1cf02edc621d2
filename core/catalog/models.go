package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
)

type ClassStatus string

const (
	ClassDraft     ClassStatus = "draft"
	ClassPublished ClassStatus = "published"
	ClassArchived  ClassStatus = "archived"
)

type LessonStatus string

const (
	LessonDraft     LessonStatus = "draft"
	LessonPublished LessonStatus = "published"
)

type Class struct {
	ID                string          `json:"id"`
	TeacherID         string          `json:"teacher_id"`
	Title             string          `json:"title"`
	MonthlyFee        decimal.Decimal `json:"monthly_fee"`
	Currency          string          `json:"currency"`
	Status            ClassStatus     `json:"status"`
	TotalEnrollments  int             `json:"total_enrollments"`
	ActiveEnrollments int             `json:"active_enrollments"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (c Class) IsPublished() bool { return c.Status == ClassPublished }

type Lesson struct {
	ID          string       `json:"id"`
	ClassID     string       `json:"class_id"`
	TeacherID   string       `json:"teacher_id"`
	Title       string       `json:"title"`
	Order       int          `json:"order"`
	MonthNumber int          `json:"month_number"`
	IsFree      bool         `json:"is_free"`
	Status      LessonStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (l Lesson) IsPublished() bool { return l.Status == LessonPublished }

// NewClass contains information needed to create a new Class.
type NewClass struct {
	TeacherID  string          `json:"teacher_id" validate:"required"`
	Title      string          `json:"title" validate:"required"`
	MonthlyFee decimal.Decimal `json:"monthly_fee" validate:"gte=0"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	Publish    bool            `json:"publish"`
}

func (nc *NewClass) Clean() {
	nc.Title = core.CleanString(nc.Title)
	nc.Currency = core.CleanString(nc.Currency)
}

// NewLesson contains information needed to create a new Lesson.
type NewLesson struct {
	ClassID     string `json:"class_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Order       int    `json:"order"`
	MonthNumber int    `json:"month_number" validate:"min=1"`
	IsFree      bool   `json:"is_free"`
	Publish     bool   `json:"publish"`
}

// Counters are the enrollment aggregates of a class, as recomputed from enrollment records.
type Counters struct {
	Total  int
	Active int
}
