package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/notify"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
	gatewaysvc "github.com/trezcool/darasa/services/gateway"
	"github.com/trezcool/darasa/tests"
)

// flakyLedger fails to apply settlements while it is down.
type flakyLedger struct {
	*enrollment.Service
	mu   sync.Mutex
	down bool
}

func (l *flakyLedger) setDown(down bool) {
	l.mu.Lock()
	l.down = down
	l.mu.Unlock()
}

func (l *flakyLedger) ApplySettlement(ctx context.Context, id string, month int, amount decimal.Decimal, paidAt time.Time) (enrollment.Enrollment, error) {
	l.mu.Lock()
	down := l.down
	l.mu.Unlock()
	if down {
		return enrollment.Enrollment{}, errors.New("ledger unavailable")
	}
	return l.Service.ApplySettlement(ctx, id, month, amount, paidAt)
}

type fixture struct {
	env     *testutil.Env
	teacher user.User
	student user.User
	enrl    enrollment.Enrollment
}

func newFixture(t *testing.T, fee string, ledger ...payment.Ledger) fixture {
	env := testutil.NewEnv(t, ledger...)
	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, fee, 10, 5)
	enrl, err := env.EnrollmentSvc.Enroll(context.Background(), student.Principal(), cls.ID)
	require.NoError(t, err)
	return fixture{env: env, teacher: teacher, student: student, enrl: enrl}
}

func newPayment(enrollmentID string, month int) payment.NewPayment {
	return payment.NewPayment{
		EnrollmentID:   enrollmentID,
		MonthNumber:    month,
		PaymentMethod:  payment.MethodCard,
		BillingDetails: payment.BillingDetails{Name: "Student", Email: "student@test.cd"},
	}
}

func TestService_Create(t *testing.T) {
	fx := newFixture(t, "50")
	env := fx.env
	ctx := context.Background()

	pmt, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
	require.NoError(t, err)

	t.Run("payment", func(t *testing.T) {
		assert.Equal(t, payment.StatusCompleted, pmt.Status)
		assert.True(t, pmt.Amount.Equal(decimal.NewFromInt(50)))
		assert.True(t, pmt.PlatformFee.Equal(decimal.NewFromInt(5)))
		assert.True(t, pmt.TeacherEarnings.Equal(decimal.NewFromInt(45)))
		assert.True(t, pmt.PlatformFee.Add(pmt.TeacherEarnings).Equal(pmt.Amount))
		assert.Equal(t, payment.GatewayMock, pmt.Gateway)
		assert.Equal(t, fx.teacher.ID, pmt.TeacherID)
		assert.Regexp(t, `^TXN-\d+-[0-9A-Z]{9}$`, pmt.TransactionID)
		assert.NotEmpty(t, pmt.GatewayTransactionID)
		assert.Regexp(t, `^INV-\d{6}-[0-9A-Z]{9}$`, pmt.InvoiceNumber)
		assert.False(t, pmt.PaidAt.IsZero())
	})

	t.Run("month is unlocked", func(t *testing.T) {
		enrl, err := env.EnrollmentSvc.GetByID(ctx, fx.enrl.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, enrl.UnlockedMonths)
		assert.True(t, enrl.TotalAmountPaid.Equal(decimal.NewFromInt(50)))
		assert.True(t, enrl.HasAccess)
	})

	t.Run("class revenue & notification", func(t *testing.T) {
		cls, err := env.CatalogSvc.GetClass(ctx, fx.enrl.ClassID)
		require.NoError(t, err)
		assert.True(t, cls.TotalRevenue.Equal(decimal.NewFromInt(50)))
		assert.Len(t, env.Notifier.Events(notify.PaymentSuccess), 1)
	})

	t.Run("month already paid", func(t *testing.T) {
		_, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
		assert.Equal(t, payment.ErrAlreadyPaid, errors.Cause(err))
	})

	t.Run("another student's enrollment", func(t *testing.T) {
		other := env.Student(t, "other")
		_, err := env.PaymentSvc.Create(ctx, other.Principal(), newPayment(fx.enrl.ID, 2))
		assert.Equal(t, enrollment.ErrNotOwner, errors.Cause(err))
	})

	t.Run("teacher", func(t *testing.T) {
		_, err := env.PaymentSvc.Create(ctx, fx.teacher.Principal(), newPayment(fx.enrl.ID, 2))
		assert.Equal(t, user.ErrRoleForbidden, errors.Cause(err))
	})
}

func TestService_Create_Declined(t *testing.T) {
	fx := newFixture(t, "50")
	env := fx.env
	ctx := context.Background()

	np := newPayment(fx.enrl.ID, 1)
	np.BillingDetails.Email = "broke" + gatewaysvc.DeclineDomain
	pmt, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), np)

	_, declined := errors.Cause(err).(*core.PaymentDeclinedError)
	require.True(t, declined, "error: %v", err)
	assert.Equal(t, payment.StatusFailed, pmt.Status)
	assert.Equal(t, "card declined", pmt.FailureReason)
	assert.Len(t, env.Notifier.Events(notify.PaymentFailed), 1)

	enrl, err := env.EnrollmentSvc.GetByID(ctx, fx.enrl.ID)
	require.NoError(t, err)
	assert.Empty(t, enrl.UnlockedMonths)

	// a failed payment does not count as paid
	pmt, err = env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, pmt.Status)
}

func TestService_Create_InvalidMonth(t *testing.T) {
	fx := newFixture(t, "50")
	ctx := context.Background()

	for _, month := range []int{0, -1} {
		pmt, err := fx.env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, month))
		assert.Equal(t, payment.ErrInvalidMonth, errors.Cause(err))
		assert.Empty(t, pmt.ID)
	}

	pmts, err := fx.env.PaymentSvc.ListForStudent(ctx, fx.student.Principal())
	require.NoError(t, err)
	assert.Empty(t, pmts, "nothing was charged")
}

func TestService_Create_Inactive(t *testing.T) {
	fx := newFixture(t, "50")
	ctx := context.Background()

	_, err := fx.env.EnrollmentSvc.Cancel(ctx, fx.student.Principal(), fx.enrl.ID, "")
	require.NoError(t, err)

	_, err = fx.env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
	assert.Equal(t, payment.ErrEnrollmentInactive, errors.Cause(err))
}

func TestService_Create_TransactionID(t *testing.T) {
	fx := newFixture(t, "50")
	env := fx.env
	ctx := context.Background()

	np := newPayment(fx.enrl.ID, 1)
	np.TransactionID = "client-txn-1"
	first, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), np)
	require.NoError(t, err)
	assert.Equal(t, "client-txn-1", first.TransactionID)

	t.Run("replay returns the same payment", func(t *testing.T) {
		replay, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), np)
		require.NoError(t, err)
		assert.Equal(t, first.ID, replay.ID)

		pmts, err := env.PaymentSvc.ListForStudent(ctx, fx.student.Principal())
		require.NoError(t, err)
		assert.Len(t, pmts, 1)
	})

	t.Run("reuse for another month", func(t *testing.T) {
		other := newPayment(fx.enrl.ID, 2)
		other.TransactionID = "client-txn-1"
		_, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), other)
		assert.Equal(t, payment.ErrTransactionMismatch, errors.Cause(err))
	})

	t.Run("generated ids are regenerated on collision", func(t *testing.T) {
		ids := []string{"TXN-1-AAAAAAAAA", "TXN-1-AAAAAAAAA", "TXN-1-BBBBBBBBB"}
		var calls int
		payment.TransactionIDFunc = func() string {
			id := ids[calls]
			calls++
			return id
		}
		defer func() { payment.TransactionIDFunc = payment.NewTransactionID }()

		p2, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 2))
		require.NoError(t, err)
		p3, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 3))
		require.NoError(t, err)

		assert.Equal(t, "TXN-1-AAAAAAAAA", p2.TransactionID)
		assert.Equal(t, "TXN-1-BBBBBBBBB", p3.TransactionID)
		assert.Equal(t, 3, calls)
	})
}

func TestService_Create_Concurrent(t *testing.T) {
	fx := newFixture(t, "50")
	ctx := context.Background()

	const n = 10
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		completed   int
		alreadyPaid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				completed++
			} else if errors.Cause(err) == payment.ErrAlreadyPaid {
				alreadyPaid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, n-1, alreadyPaid)

	enrl, err := fx.env.EnrollmentSvc.GetByID(ctx, fx.enrl.ID)
	require.NoError(t, err)
	assert.True(t, enrl.TotalAmountPaid.Equal(decimal.NewFromInt(50)))
}

func TestService_Reconcile(t *testing.T) {
	ledger := new(flakyLedger)
	env := testutil.NewEnv(t, ledger)
	ledger.Service = env.EnrollmentSvc
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, "50", 10, 5)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	ledger.setDown(true)
	pmt, err := env.PaymentSvc.Create(ctx, student.Principal(), newPayment(enrl.ID, 1))

	rErr, ok := errors.Cause(err).(*core.ReconciliationError)
	require.True(t, ok, "error: %v", err)
	assert.Equal(t, pmt.ID, rErr.PaymentID)
	assert.Equal(t, enrl.ID, rErr.EnrollmentID)
	assert.Equal(t, 1, rErr.MonthNumber)
	assert.Equal(t, payment.StatusCompleted, pmt.Status, "the money was taken")
	assert.NotEmpty(t, env.Logger.Entries("error"))

	t.Run("the month cannot be paid twice meanwhile", func(t *testing.T) {
		_, err := env.PaymentSvc.Create(ctx, student.Principal(), newPayment(enrl.ID, 1))
		assert.Equal(t, payment.ErrAlreadyPaid, errors.Cause(err))
	})

	t.Run("sweep while the ledger is down", func(t *testing.T) {
		for i := 0; i < env.Conf.Reconcile.MaxAttempts; i++ {
			report, err := env.PaymentSvc.Reconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Failed)
			assert.Equal(t, 0, report.Resolved)
		}
		escalations := 0
		for _, e := range env.Logger.Entries("error") {
			if e.Message == "reconciliation needs manual attention" {
				escalations++
			}
		}
		assert.Equal(t, 1, escalations)
	})

	t.Run("sweep once the ledger is back", func(t *testing.T) {
		ledger.setDown(false)
		report, err := env.PaymentSvc.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, payment.ReconcileReport{Resolved: 1}, report)

		got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, got.UnlockedMonths)
		assert.True(t, got.TotalAmountPaid.Equal(decimal.NewFromInt(50)))
		assert.Len(t, env.Notifier.Events(notify.PaymentSuccess), 1)

		report, err = env.PaymentSvc.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, payment.ReconcileReport{}, report, "nothing left to reconcile")
	})

	t.Run("refunded while queued", func(t *testing.T) {
		admin := env.Admin(t, "admin")
		ledger.setDown(true)
		queued, err := env.PaymentSvc.Create(ctx, student.Principal(), newPayment(enrl.ID, 2))
		_, ok := errors.Cause(err).(*core.ReconciliationError)
		require.True(t, ok, "error: %v", err)

		refunded, err := env.PaymentSvc.Refund(ctx, admin.Principal(), queued.ID, decimal.Zero, "")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusRefunded, refunded.Status)

		ledger.setDown(false)
		report, err := env.PaymentSvc.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, payment.ReconcileReport{}, report, "the refund closed the item")

		got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, got.UnlockedMonths, "a refunded month stays locked")
		assert.True(t, got.TotalAmountPaid.Equal(decimal.NewFromInt(50)))

		c, err := env.CatalogSvc.GetClass(ctx, cls.ID)
		require.NoError(t, err)
		assert.True(t, c.TotalRevenue.Equal(decimal.NewFromInt(50)), "revenue: %s", c.TotalRevenue)
	})
}

func TestService_Reconcile_RefundedBeforeSweep(t *testing.T) {
	ledger := new(flakyLedger)
	env := testutil.NewEnv(t, ledger)
	ledger.Service = env.EnrollmentSvc
	ctx := context.Background()

	teacher := env.Teacher(t, "teacher")
	student := env.Student(t, "student")
	cls, _ := env.Class(t, teacher, "50", 10, 5)
	enrl, err := env.EnrollmentSvc.Enroll(ctx, student.Principal(), cls.ID)
	require.NoError(t, err)

	ledger.setDown(true)
	pmt, err := env.PaymentSvc.Create(ctx, student.Principal(), newPayment(enrl.ID, 1))
	_, ok := errors.Cause(err).(*core.ReconciliationError)
	require.True(t, ok, "error: %v", err)

	// refunded behind the service's back, eg. by another instance before the item was closed
	pmt.Status = payment.StatusRefunded
	_, err = env.PaymentRepo.UpdatePayment(ctx, pmt)
	require.NoError(t, err)

	ledger.setDown(false)
	report, err := env.PaymentSvc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, payment.ReconcileReport{Closed: 1}, report)

	got, err := env.EnrollmentSvc.GetByID(ctx, enrl.ID)
	require.NoError(t, err)
	assert.Empty(t, got.UnlockedMonths)
	assert.False(t, got.HasAccess)
	assert.True(t, got.TotalAmountPaid.IsZero())

	report, err = env.PaymentSvc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, payment.ReconcileReport{}, report)
}

func TestService_Refund(t *testing.T) {
	fx := newFixture(t, "50")
	env := fx.env
	ctx := context.Background()
	admin := env.Admin(t, "admin")

	pmt, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
	require.NoError(t, err)

	tests := []struct {
		name      string
		p         user.Principal
		amount    string
		wantError error
	}{
		{"student", fx.student.Principal(), "0", user.ErrRoleForbidden},
		{"negative amount", admin.Principal(), "-1", payment.ErrInvalidRefundAmount},
		{"more than paid", admin.Principal(), "50.01", payment.ErrInvalidRefundAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.PaymentSvc.Refund(ctx, tt.p, pmt.ID, decimal.RequireFromString(tt.amount), "")
			assert.Equal(t, tt.wantError, errors.Cause(err))
		})
	}

	refunded, err := env.PaymentSvc.Refund(ctx, admin.Principal(), pmt.ID, decimal.Zero, " duplicate ")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, refunded.Status)
	assert.True(t, refunded.RefundAmount.Equal(decimal.NewFromInt(50)), "zero means the full amount")
	assert.Equal(t, "duplicate", refunded.RefundReason)

	_, err = env.PaymentSvc.Refund(ctx, admin.Principal(), pmt.ID, decimal.Zero, "")
	assert.True(t, core.IsInvalidState(err), "refunding twice: %v", err)

	cls, err := env.CatalogSvc.GetClass(ctx, fx.enrl.ClassID)
	require.NoError(t, err)
	assert.True(t, cls.TotalRevenue.IsZero())

	enrl, err := env.EnrollmentSvc.GetByID(ctx, fx.enrl.ID)
	require.NoError(t, err)
	assert.True(t, enrl.IsMonthUnlocked(1), "refunds keep unlocked months")
}

func TestService_Teachers(t *testing.T) {
	fx := newFixture(t, "33.33")
	env := fx.env
	ctx := context.Background()
	admin := env.Admin(t, "admin")
	otherTeacher := env.Teacher(t, "other-teacher")

	for month := 1; month <= 3; month++ {
		_, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, month))
		require.NoError(t, err)
	}
	np := newPayment(fx.enrl.ID, 4)
	np.BillingDetails.Email = "x" + gatewaysvc.DeclineDomain
	_, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), np)
	require.Error(t, err)

	t.Run("earnings", func(t *testing.T) {
		for _, p := range []user.Principal{fx.teacher.Principal(), admin.Principal()} {
			earnings, err := env.PaymentSvc.TeacherEarnings(ctx, p, fx.teacher.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, earnings.Count)
			// 33.33 - 3.33 fee, 3 times
			assert.True(t, earnings.Total.Equal(decimal.NewFromInt(90)), "total: %s", earnings.Total)
		}
	})

	t.Run("payments", func(t *testing.T) {
		pmts, err := env.PaymentSvc.ListForTeacher(ctx, fx.teacher.Principal(), fx.teacher.ID)
		require.NoError(t, err)
		assert.Len(t, pmts, 3, "completed payments only")
	})

	t.Run("earnings match the payments", func(t *testing.T) {
		pmts, err := env.PaymentSvc.ListForTeacher(ctx, admin.Principal(), fx.teacher.ID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, pmt := range pmts {
			require.Equal(t, payment.StatusCompleted, pmt.Status)
			sum = sum.Add(pmt.Amount.Sub(pmt.PlatformFee))
		}
		earnings, err := env.PaymentSvc.TeacherEarnings(ctx, admin.Principal(), fx.teacher.ID)
		require.NoError(t, err)
		assert.True(t, earnings.Total.Equal(sum), "total %s, payments %s", earnings.Total, sum)
		assert.Equal(t, len(pmts), earnings.Count)
	})

	t.Run("other teacher", func(t *testing.T) {
		_, err := env.PaymentSvc.TeacherEarnings(ctx, otherTeacher.Principal(), fx.teacher.ID)
		assert.Equal(t, payment.ErrNotOwner, errors.Cause(err))
		_, err = env.PaymentSvc.ListForTeacher(ctx, otherTeacher.Principal(), fx.teacher.ID)
		assert.Equal(t, payment.ErrNotOwner, errors.Cause(err))
	})

	t.Run("student", func(t *testing.T) {
		_, err := env.PaymentSvc.TeacherEarnings(ctx, fx.student.Principal(), fx.teacher.ID)
		assert.Equal(t, user.ErrRoleForbidden, errors.Cause(err))
	})
}

func TestService_GetByID(t *testing.T) {
	fx := newFixture(t, "50")
	env := fx.env
	ctx := context.Background()

	pmt, err := env.PaymentSvc.Create(ctx, fx.student.Principal(), newPayment(fx.enrl.ID, 1))
	require.NoError(t, err)

	tests := []struct {
		name      string
		p         user.Principal
		wantError error
	}{
		{"student", fx.student.Principal(), nil},
		{"teacher", fx.teacher.Principal(), nil},
		{"admin", env.Admin(t, "admin").Principal(), nil},
		{"other student", env.Student(t, "other").Principal(), payment.ErrNotOwner},
		{"other teacher", env.Teacher(t, "other-teacher").Principal(), payment.ErrNotOwner},
		{"anonymous", user.Principal{}, payment.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.PaymentSvc.GetByID(ctx, tt.p, pmt.ID)
			if tt.wantError != nil {
				assert.Equal(t, tt.wantError, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pmt.ID, got.ID)
		})
	}
}
