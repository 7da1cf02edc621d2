package enrollment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/tests"
)

var errBoom = errors.New("boom")

// failingCatalog fails to count new enrollments.
type failingCatalog struct {
	*catalog.Service
}

func (failingCatalog) RecordEnrollment(context.Context, string) error { return errBoom }

// failingDirectory fails to record new enrollments on users.
type failingDirectory struct {
	*user.Service
}

func (failingDirectory) RecordEnrollment(context.Context, string, string, string) error { return errBoom }

func TestService_Enroll(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, lessons := env.Class(t, teacher, "50", 4, 2)
	draft := testutil.CreateClass(t, env.CatalogSvc, teacher.ID, "Draft", "10", false)

	t.Run("success", func(t *testing.T) {
		enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
		require.NoError(t, err)

		assert.Equal(t, enrollment.StatusActive, enrl.Status)
		assert.Equal(t, enrollment.SubscriptionActive, enrl.SubscriptionStatus)
		assert.Equal(t, teacher.ID, enrl.TeacherID)
		assert.Equal(t, 1, enrl.CurrentMonth)
		assert.Empty(t, enrl.UnlockedMonths)
		assert.False(t, enrl.HasAccess)
		assert.Equal(t, len(lessons), enrl.Progress.TotalLessons)
		assert.True(t, enrl.MonthlyFee.Equal(decimal.NewFromInt(50)))

		got, err := env.CatalogSvc.GetClass(ctx, cls.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.TotalEnrollments)
		assert.Equal(t, 1, got.ActiveEnrollments)

		usr, err := env.UserSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{cls.ID}, usr.EnrolledClasses)

		tchr, err := env.UserSvc.GetByID(ctx, teacher.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, tchr.TotalStudents)

		assert.Len(t, env.Notifier.Events(notify.EnrollmentConfirmation), 1)
	})

	tests := []struct {
		name      string
		p         user.Principal
		classID   string
		wantError error
	}{
		{"already enrolled", student.Principal(), cls.ID, enrollment.ErrAlreadyEnrolled},
		{"draft class", student.Principal(), draft.ID, catalog.ErrClassNotAvailable},
		{"unknown class", student.Principal(), "nope", catalog.ErrClassNotFound},
		{"teacher", teacher.Principal(), cls.ID, user.ErrRoleForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.EnrollmentSvc.Enroll(ctx, tt.p, tt.classID)
			assert.Equal(t, tt.wantError, errors.Cause(err))
		})
	}
}

func TestService_Enroll_Concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, "50", 2, 1)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Cause(err) == enrollment.ErrAlreadyEnrolled {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)

	got, err := env.CatalogSvc.GetClass(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalEnrollments)
}

func TestService_Enroll_Compensation(t *testing.T) {
	tests := []struct {
		name      string
		newSvc    func(env *testutil.Env) *enrollment.Service
		wantTotal int
	}{
		{
			name: "class counters fail",
			newSvc: func(env *testutil.Env) *enrollment.Service {
				return enrollment.NewService(env.EnrollmentRepo, failingCatalog{env.CatalogSvc}, env.UserSvc, env.Notifier, env.Conf, env.Logger)
			},
		},
		{
			name: "user counters fail",
			newSvc: func(env *testutil.Env) *enrollment.Service {
				return enrollment.NewService(env.EnrollmentRepo, env.CatalogSvc, failingDirectory{env.UserSvc}, env.Notifier, env.Conf, env.Logger)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewEnv(t)
			ctx := context.Background()
			teacher := env.Teacher(t, "teacher")
			student := env.Student(t, "student")
			cls, _ := env.Class(t, teacher, "50", 2, 1)

			_, err := tt.newSvc(env).Enroll(ctx, student.Principal(), cls.ID)
			assert.Equal(t, errBoom, errors.Cause(err))

			_, err = env.EnrollmentSvc.FindForStudentClass(ctx, student.ID, cls.ID)
			assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err), "enrollment is rolled back")

			got, err := env.CatalogSvc.GetClass(ctx, cls.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.TotalEnrollments)
			assert.Equal(t, 0, got.ActiveEnrollments)
			assert.Empty(t, env.Notifier.Events(notify.EnrollmentConfirmation))

			// the student can enroll once things are back to normal
			_, err = env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
			assert.NoError(t, err)
		})
	}
}

func TestService_UnlockMonth(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, "50", 6, 2)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	for _, month := range []int{3, 1, 3, 1} {
		enrl, err = env.EnrollmentSvc.UnlockMonth(ctx, enrl.ID, month)
		require.NoError(t, err)
	}
	if diff := cmp.Diff([]int{1, 3}, enrl.UnlockedMonths); diff != "" {
		t.Errorf("UnlockedMonths mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, enrl.TotalMonthsPaid)
	assert.Equal(t, 3, enrl.CurrentMonth)
	assert.True(t, enrl.HasAccess)

	_, err = env.EnrollmentSvc.UnlockMonth(ctx, enrl.ID, 0)
	assert.Equal(t, enrollment.ErrInvalidMonth, errors.Cause(err))

	_, err = env.EnrollmentSvc.UnlockMonth(ctx, "nope", 1)
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))
}

func TestService_ApplySettlement(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, "50", 6, 2)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	paidAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	amount := decimal.NewFromInt(50)

	t.Run("concurrent replays count once", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.EnrollmentSvc.ApplySettlement(ctx, enrl.ID, 1, amount, paidAt)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, got.UnlockedMonths)
		assert.True(t, got.TotalAmountPaid.Equal(amount), "total paid: %s", got.TotalAmountPaid)
		assert.Equal(t, paidAt, got.LastPaymentDate)
		assert.Equal(t, paidAt.Add(env.Conf.Payment.NextPaymentDelta), got.NextPaymentDate)
	})

	t.Run("months are unlocked independently", func(t *testing.T) {
		got, err := env.EnrollmentSvc.ApplySettlement(ctx, enrl.ID, 2, amount, paidAt.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, got.UnlockedMonths)
		assert.True(t, got.TotalAmountPaid.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, 2, got.TotalMonthsPaid)
	})

	t.Run("invalid month", func(t *testing.T) {
		_, err := env.EnrollmentSvc.ApplySettlement(ctx, enrl.ID, 0, amount, paidAt)
		assert.Equal(t, enrollment.ErrInvalidMonth, errors.Cause(err))
	})
}

func TestService_Cancel(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	other := env.Student(t, "other")
	cls, _ := env.Class(t, teacher, "50", 2, 1)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)
	_, err = env.EnrollmentSvc.UnlockMonth(ctx, enrl.ID, 1)
	require.NoError(t, err)

	_, err = env.EnrollmentSvc.Cancel(ctx, other.Principal(), enrl.ID, "")
	assert.Equal(t, enrollment.ErrNotOwner, errors.Cause(err))

	got, err := env.EnrollmentSvc.Cancel(ctx, student.Principal(), enrl.ID, "  too expensive ")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCancelled, got.Status)
	assert.Equal(t, enrollment.SubscriptionCancelled, got.SubscriptionStatus)
	assert.Equal(t, "too expensive", got.CancellationReason)
	assert.False(t, got.CancelledAt.IsZero())
	assert.Equal(t, []int{1}, got.UnlockedMonths, "unlocked months are kept")

	_, err = env.EnrollmentSvc.Cancel(ctx, student.Principal(), enrl.ID, "")
	assert.Equal(t, enrollment.ErrAlreadyCancelled, errors.Cause(err))

	cl, err := env.CatalogSvc.GetClass(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cl.TotalEnrollments)
	assert.Equal(t, 0, cl.ActiveEnrollments)

	t.Run("active counter is floored at 0", func(t *testing.T) {
		require.NoError(t, env.CatalogSvc.RecordCancellation(ctx, cls.ID))
		cl, err := env.CatalogSvc.GetClass(ctx, cls.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, cl.ActiveEnrollments)
	})
}

func TestService_Get(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	otherTeacher := env.Teacher(t, "other-teacher")
	admin := env.Admin(t, "admin")
	student := env.Student(t, "student")
	other := env.Student(t, "other")
	cls, _ := env.Class(t, teacher, "50", 2, 1)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	tests := []struct {
		name      string
		p         user.Principal
		wantError error
	}{
		{"student", student.Principal(), nil},
		{"class teacher", teacher.Principal(), nil},
		{"admin", admin.Principal(), nil},
		{"other student", other.Principal(), enrollment.ErrNotOwner},
		{"other teacher", otherTeacher.Principal(), enrollment.ErrNotOwner},
		{"anonymous", user.Principal{}, enrollment.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.EnrollmentSvc.Get(ctx, tt.p, enrl.ID)
			if tt.wantError != nil {
				assert.Equal(t, tt.wantError, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, enrl.ID, got.ID)
		})
	}
}

func TestService_ExpireLapsed(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	cls, _ := env.Class(t, teacher, "50", 2, 1)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	amount := decimal.NewFromInt(50)
	grace := env.Conf.Subscription.GracePeriod
	delta := env.Conf.Payment.NextPaymentDelta

	enroll := func(uname string) string {
		enrl, err := env.EnrollmentSvc.Enroll(ctx, env.Student(t, uname).Principal(), cls.ID)
		require.NoError(t, err)
		return enrl.ID
	}
	lapsed := enroll("lapsed")
	inGrace := enroll("in-grace")
	neverPaid := enroll("never-paid")

	_, err := env.EnrollmentSvc.ApplySettlement(ctx, lapsed, 1, amount, now.Add(-delta-grace-time.Hour))
	require.NoError(t, err)
	_, err = env.EnrollmentSvc.ApplySettlement(ctx, inGrace, 1, amount, now.Add(-delta-grace+time.Hour))
	require.NoError(t, err)

	n, err := env.EnrollmentSvc.ExpireLapsed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.EnrollmentSvc.ExpireLapsed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expiring twice")

	statuses := map[string]enrollment.SubscriptionStatus{
		lapsed:    enrollment.SubscriptionExpired,
		inGrace:   enrollment.SubscriptionActive,
		neverPaid: enrollment.SubscriptionActive,
	}
	for id, want := range statuses {
		got, err := env.EnrollmentSvc.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.SubscriptionStatus)
		assert.Equal(t, enrollment.StatusActive, got.Status)
	}

	got, err := env.EnrollmentSvc.GetByID(ctx, lapsed)
	require.NoError(t, err)
	assert.True(t, got.IsMonthUnlocked(1), "paid months stay unlocked")
}

func TestService_RecountCounters(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	cls, _ := env.Class(t, teacher, "50", 2, 1)
	alice := env.Student(t, "alice")
	bob := env.Student(t, "bob")

	_, err := env.EnrollmentSvc.Enroll(ctx, alice.Principal(), cls.ID)
	require.NoError(t, err)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, bob.Principal(), cls.ID)
	require.NoError(t, err)
	_, err = env.EnrollmentSvc.Cancel(ctx, bob.Principal(), enrl.ID, "")
	require.NoError(t, err)

	other := env.Teacher(t, "other-teacher")
	empty, _ := env.Class(t, other, "20", 1, 1)

	// drift the counters, including a class nobody is enrolled in
	require.NoError(t, env.CatalogSvc.SetEnrollmentCounters(ctx, cls.ID, catalog.Counters{Total: 7, Active: 5}))
	require.NoError(t, env.CatalogSvc.SetEnrollmentCounters(ctx, empty.ID, catalog.Counters{Total: 3, Active: 3}))
	require.NoError(t, env.UserSvc.SetTotalStudents(ctx, teacher.ID, 9))
	require.NoError(t, env.UserSvc.SetTotalStudents(ctx, other.ID, 4))

	n, err := env.EnrollmentSvc.RecountCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tests := []struct {
		name       string
		classID    string
		teacherID  string
		wantTotal  int
		wantActive int
	}{
		{"enrolled class", cls.ID, teacher.ID, 2, 1},
		{"class without enrollments", empty.ID, other.ID, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.CatalogSvc.GetClass(ctx, tt.classID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, got.TotalEnrollments)
			assert.Equal(t, tt.wantActive, got.ActiveEnrollments)

			tchr, err := env.UserSvc.GetByID(ctx, tt.teacherID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, tchr.TotalStudents, "teacher students")
		})
	}
}
