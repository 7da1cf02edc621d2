package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnrollment_unlock(t *testing.T) {
	e := Enrollment{UnlockedMonths: []int{}, CurrentMonth: 1}

	assert.True(t, e.unlock(3))
	assert.True(t, e.unlock(1))
	assert.False(t, e.unlock(3), "unlocking twice")

	assert.Equal(t, []int{1, 3}, e.UnlockedMonths)
	assert.Equal(t, 2, e.TotalMonthsPaid)
	assert.Equal(t, 3, e.CurrentMonth)
	assert.True(t, e.HasAccess)
	assert.True(t, e.IsMonthUnlocked(3))
	assert.False(t, e.IsMonthUnlocked(2))
}

func TestCompletionPercentage(t *testing.T) {
	tests := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 10, 0},
		{3, 10, 30},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{10, 10, 100},
		{12, 10, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, completionPercentage(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}

func TestEnrollment_completeLesson(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	e := Enrollment{Progress: Progress{CompletedLessons: []string{}, TotalLessons: 2}}

	e.completeLesson("l1", now)
	e.completeLesson("l1", now)
	assert.Equal(t, []string{"l1"}, e.Progress.CompletedLessons)
	assert.Equal(t, float64(50), e.Progress.CompletionPercentage)
	assert.True(t, e.CompletedAt.IsZero())

	e.completeLesson("l2", now)
	assert.Equal(t, float64(100), e.Progress.CompletionPercentage)
	assert.Equal(t, now, e.CompletedAt)
}

func TestLessonProgress_apply(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	pct := func(f float64) *float64 { return &f }
	num := func(i int) *int { return &i }
	yes := true

	lp := LessonProgress{Status: ProgressNotStarted}

	assert.False(t, lp.apply(ProgressUpdate{CompletionPercentage: pct(40), LastWatchedPosition: num(120), WatchedSeconds: num(60)}, now))
	assert.Equal(t, ProgressInProgress, lp.Status)
	assert.Equal(t, float64(40), lp.CompletionPercentage)
	assert.Equal(t, now, lp.FirstAccessedAt)

	later := now.Add(time.Minute)
	assert.False(t, lp.apply(ProgressUpdate{CompletionPercentage: pct(20), WatchedSeconds: num(30)}, later))
	assert.Equal(t, float64(40), lp.CompletionPercentage, "percentage never goes down")
	assert.Equal(t, 90, lp.TotalWatchTime)
	assert.Equal(t, now, lp.FirstAccessedAt)
	assert.Equal(t, later, lp.LastAccessedAt)

	assert.True(t, lp.apply(ProgressUpdate{IsCompleted: &yes}, later))
	assert.Equal(t, ProgressCompleted, lp.Status)
	assert.Equal(t, float64(100), lp.CompletionPercentage)

	assert.True(t, lp.apply(ProgressUpdate{CompletionPercentage: pct(10)}, later.Add(time.Minute)), "a completed lesson stays completed")
	assert.Equal(t, float64(100), lp.CompletionPercentage)
	assert.Equal(t, later, lp.CompletedAt)
}
