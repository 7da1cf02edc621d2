package enrollment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/tests"
)

func TestService_MarkLessonComplete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	stranger := env.Student(t, "stranger")
	cls, lessons := env.Class(t, teacher, "50", 10, 5)
	otherCls, otherLessons := env.Class(t, teacher, "20", 2, 1)
	_, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), cls.ID, lessons[i].ID)
		require.NoError(t, err)
	}
	enrl, err := env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), cls.ID, lessons[2].ID)
	require.NoError(t, err)

	assert.Len(t, enrl.Progress.CompletedLessons, 3, "marking twice is the same as once")
	assert.Equal(t, float64(30), enrl.Progress.CompletionPercentage)
	assert.Equal(t, lessons[2].ID, enrl.Progress.LastAccessedLesson)
	assert.True(t, enrl.CompletedAt.IsZero())

	lp, err := env.EnrollmentSvc.GetLessonProgress(ctx, student.Principal(), lessons[0].ID)
	require.NoError(t, err)
	assert.True(t, lp.IsCompleted)
	assert.Equal(t, enrollment.ProgressCompleted, lp.Status)

	t.Run("lesson of another class", func(t *testing.T) {
		_, err := env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), cls.ID, otherLessons[0].ID)
		assert.Equal(t, catalog.ErrLessonNotFound, errors.Cause(err))
	})

	t.Run("not enrolled", func(t *testing.T) {
		_, err := env.EnrollmentSvc.MarkLessonComplete(ctx, stranger.Principal(), cls.ID, lessons[0].ID)
		assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))

		_, err = env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), otherCls.ID, otherLessons[0].ID)
		assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))
	})

	t.Run("completing every lesson completes the enrollment", func(t *testing.T) {
		for _, lsn := range lessons {
			enrl, err = env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), cls.ID, lsn.ID)
			require.NoError(t, err)
		}
		assert.Equal(t, float64(100), enrl.Progress.CompletionPercentage)
		assert.False(t, enrl.CompletedAt.IsZero())
	})
}

func TestService_UpdateProgress(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, lessons := env.Class(t, teacher, "50", 4, 2)
	_, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	pct := func(f float64) *float64 { return &f }
	secs := func(i int) *int { return &i }

	lp, err := env.EnrollmentSvc.GetLessonProgress(ctx, student.Principal(), lessons[1].ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ProgressNotStarted, lp.Status)

	lp, err = env.EnrollmentSvc.UpdateProgress(ctx, student.Principal(), lessons[1].ID, enrollment.ProgressUpdate{
		CompletionPercentage: pct(60), LastWatchedPosition: secs(300), WatchedSeconds: secs(120),
	})
	require.NoError(t, err)
	assert.Equal(t, enrollment.ProgressInProgress, lp.Status)
	assert.Equal(t, float64(60), lp.CompletionPercentage)

	lp, err = env.EnrollmentSvc.UpdateProgress(ctx, student.Principal(), lessons[1].ID, enrollment.ProgressUpdate{
		CompletionPercentage: pct(25), WatchedSeconds: secs(30),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(60), lp.CompletionPercentage, "percentage is monotonic")
	assert.Equal(t, 150, lp.TotalWatchTime)

	enrl, err := env.EnrollmentSvc.FindForStudentClass(ctx, student.ID, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, enrl.Progress.CompletedLessons)
	assert.Equal(t, 150, enrl.Progress.TotalTimeSpent)

	lp, err = env.EnrollmentSvc.UpdateProgress(ctx, student.Principal(), lessons[1].ID, enrollment.ProgressUpdate{CompletionPercentage: pct(100)})
	require.NoError(t, err)
	assert.True(t, lp.IsCompleted)

	enrl, err = env.EnrollmentSvc.FindForStudentClass(ctx, student.ID, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{lessons[1].ID}, enrl.Progress.CompletedLessons)
	assert.Equal(t, float64(25), enrl.Progress.CompletionPercentage)
}

func TestService_Progress_Concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, lessons := env.Class(t, teacher, "50", 10, 5)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	const workers = 30
	full, partial := 100.0, 40.0
	watched := 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lsn := lessons[i%6] // lessons 1 to 6, each hit 5 times
			var err error
			switch (i / 6) % 3 {
			case 0:
				_, err = env.EnrollmentSvc.MarkLessonComplete(ctx, student.Principal(), cls.ID, lsn.ID)
			case 1:
				_, err = env.EnrollmentSvc.UpdateProgress(ctx, student.Principal(), lsn.ID, enrollment.ProgressUpdate{
					CompletionPercentage: &full,
					WatchedSeconds:       &watched,
				})
			default:
				// partial reports racing the completions must not undo them
				_, err = env.EnrollmentSvc.UpdateProgress(ctx, student.Principal(), lsn.ID, enrollment.ProgressUpdate{
					CompletionPercentage: &partial,
					WatchedSeconds:       &watched,
				})
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
	require.NoError(t, err)
	assert.Len(t, got.Progress.CompletedLessons, 6)
	assert.ElementsMatch(t, []string{
		lessons[0].ID, lessons[1].ID, lessons[2].ID, lessons[3].ID, lessons[4].ID, lessons[5].ID,
	}, got.Progress.CompletedLessons)
	assert.Equal(t, 60.0, got.Progress.CompletionPercentage)
	assert.Equal(t, 20*watched, got.Progress.TotalTimeSpent, "every watch report counted once")

	for _, lsn := range lessons[:6] {
		lp, err := env.EnrollmentSvc.GetLessonProgress(ctx, student.Principal(), lsn.ID)
		require.NoError(t, err)
		assert.Equal(t, enrollment.ProgressCompleted, lp.Status)
	}
}

func TestService_Progress_CancelledMeanwhile(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, lessons := env.Class(t, teacher, "50", 10, 5)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	// enrl was looked up while active; the cancellation lands before the progress write
	_, err = env.EnrollmentSvc.Cancel(ctx, student.Principal(), enrl.ID, "")
	require.NoError(t, err)

	completed := true
	_, _, err = enrollment.ApplyProgress(env.EnrollmentSvc, ctx, enrl, lessons[0], enrollment.ProgressUpdate{IsCompleted: &completed})
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))

	got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Progress.CompletedLessons)
	assert.Zero(t, got.Progress.CompletionPercentage)

	lp, err := env.EnrollmentSvc.GetLessonProgress(ctx, student.Principal(), lessons[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ProgressNotStarted, lp.Status)
}
