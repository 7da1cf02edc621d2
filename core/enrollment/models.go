package enrollment

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

type Progress struct {
	CompletedLessons     []string  `json:"completed_lessons"`
	TotalLessons         int       `json:"total_lessons"`
	CompletionPercentage float64   `json:"completion_percentage"`
	LastAccessedLesson   string    `json:"last_accessed_lesson,omitempty"`
	LastAccessedAt       time.Time `json:"last_accessed_at,omitempty"`
	TotalTimeSpent       int       `json:"total_time_spent"` // seconds
}

// Enrollment is the ledger entry of one student in one class.
// UnlockedMonths is kept sorted and only ever grows; TotalMonthsPaid and HasAccess are derived from it.
type Enrollment struct {
	ID                 string             `json:"id"`
	StudentID          string             `json:"student_id"`
	ClassID            string             `json:"class_id"`
	TeacherID          string             `json:"teacher_id"`
	Status             Status             `json:"status"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CurrentMonth       int                `json:"current_month"`
	TotalMonthsPaid    int                `json:"total_months_paid"`
	MonthlyFee         decimal.Decimal    `json:"monthly_fee"`
	Currency           string             `json:"currency"`
	TotalAmountPaid    decimal.Decimal    `json:"total_amount_paid"`
	HasAccess          bool               `json:"has_access"`
	UnlockedMonths     []int              `json:"unlocked_months"`
	Progress           Progress           `json:"progress"`
	EnrollmentDate     time.Time          `json:"enrollment_date"`
	LastPaymentDate    time.Time          `json:"last_payment_date,omitempty"`
	NextPaymentDate    time.Time          `json:"next_payment_date,omitempty"`
	CancelledAt        time.Time          `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CompletedAt        time.Time          `json:"completed_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Version            int                `json:"-"`
}

func (e *Enrollment) IsActive() bool { return e.Status == StatusActive }

func (e *Enrollment) IsMonthUnlocked(month int) bool {
	return core.ContainsInt(e.UnlockedMonths, month)
}

// unlock adds month to the unlocked months, reporting whether it was not already there.
func (e *Enrollment) unlock(month int) bool {
	if e.IsMonthUnlocked(month) {
		return false
	}
	e.UnlockedMonths = append(e.UnlockedMonths, month)
	sort.Ints(e.UnlockedMonths)
	e.TotalMonthsPaid = len(e.UnlockedMonths)
	e.HasAccess = e.TotalMonthsPaid > 0
	if month > e.CurrentMonth {
		e.CurrentMonth = month
	}
	return true
}

func (e *Enrollment) touch(lessonID string, now time.Time) {
	e.Progress.LastAccessedLesson = lessonID
	e.Progress.LastAccessedAt = now
}

// completeLesson adds lessonID to the completed lessons (once) and recomputes the completion percentage.
func (e *Enrollment) completeLesson(lessonID string, now time.Time) {
	if !core.ContainsString(e.Progress.CompletedLessons, lessonID) {
		e.Progress.CompletedLessons = append(e.Progress.CompletedLessons, lessonID)
	}
	e.Progress.CompletionPercentage = completionPercentage(len(e.Progress.CompletedLessons), e.Progress.TotalLessons)
	if e.Progress.CompletionPercentage >= 100 && e.CompletedAt.IsZero() {
		e.CompletedAt = now
	}
}

func completionPercentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(completed*100) / float64(total)
	return math.Min(100, math.Round(pct*100)/100)
}

// Copy returns a deep copy of the enrollment.
func (e Enrollment) Copy() Enrollment {
	e.UnlockedMonths = append(make([]int, 0, len(e.UnlockedMonths)), e.UnlockedMonths...)
	e.Progress.CompletedLessons = append(make([]string, 0, len(e.Progress.CompletedLessons)), e.Progress.CompletedLessons...)
	return e
}

// LessonProgress is the playback state of one student on one lesson.
type LessonProgress struct {
	ID                   string         `json:"id"`
	StudentID            string         `json:"student_id"`
	LessonID             string         `json:"lesson_id"`
	ClassID              string         `json:"class_id"`
	EnrollmentID         string         `json:"enrollment_id"`
	Status               ProgressStatus `json:"status"`
	CompletionPercentage float64        `json:"completion_percentage"`
	LastWatchedPosition  int            `json:"last_watched_position"`
	TotalWatchTime       int            `json:"total_watch_time"`
	IsCompleted          bool           `json:"is_completed"`
	CompletedAt          time.Time      `json:"completed_at,omitempty"`
	FirstAccessedAt      time.Time      `json:"first_accessed_at,omitempty"`
	LastAccessedAt       time.Time      `json:"last_accessed_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ProgressUpdate is a partial playback report; nil fields are left untouched.
type ProgressUpdate struct {
	CompletionPercentage *float64 `json:"completion_percentage" validate:"omitempty,gte=0,lte=100"`
	LastWatchedPosition  *int     `json:"last_watched_position" validate:"omitempty,gte=0"`
	WatchedSeconds       *int     `json:"watched_seconds" validate:"omitempty,gte=0"`
	IsCompleted          *bool    `json:"is_completed"`
}

// apply merges upd into the lesson progress and reports whether the lesson is completed.
// A completed lesson stays completed.
func (lp *LessonProgress) apply(upd ProgressUpdate, now time.Time) bool {
	if lp.FirstAccessedAt.IsZero() {
		lp.FirstAccessedAt = now
	}
	lp.LastAccessedAt = now
	if upd.LastWatchedPosition != nil {
		lp.LastWatchedPosition = *upd.LastWatchedPosition
	}
	if upd.WatchedSeconds != nil {
		lp.TotalWatchTime += *upd.WatchedSeconds
	}
	if lp.IsCompleted {
		return true
	}

	complete := upd.IsCompleted != nil && *upd.IsCompleted
	if upd.CompletionPercentage != nil {
		pct := math.Max(0, math.Min(100, *upd.CompletionPercentage))
		complete = complete || pct >= 100
		if pct > lp.CompletionPercentage {
			lp.CompletionPercentage = pct
		}
	}
	if complete {
		lp.Status = ProgressCompleted
		lp.IsCompleted = true
		lp.CompletionPercentage = 100
		lp.CompletedAt = now
		return true
	}
	lp.Status = ProgressInProgress
	return false
}

// QueryFilter narrows QueryEnrollments; zero fields are ignored.
type QueryFilter struct {
	StudentID          string
	ClassID            string
	TeacherID          string
	Status             Status
	SubscriptionStatus SubscriptionStatus
	NextPaymentBefore  time.Time
	Ordering           []core.DBOrdering
}

// Orderings maps the json fields enrollments may be ordered by to their columns.
var Orderings = map[string]string{
	"enrollment_date":   "enrollment_date",
	"next_payment_date": "next_payment_date",
	"updated_at":        "updated_at",
}
