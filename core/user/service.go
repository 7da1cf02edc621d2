package user

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("user")
	ErrUserExists         = core.NewConflictError("a user with this username or email already exists")
	ErrInvalidCredentials = core.NewValidationError(errors.New("invalid credentials"))
	ErrAccountDeactivated = core.NewForbiddenError("account deactivated")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		AddEnrolledClass(ctx context.Context, studentID, classID string) error
		RemoveEnrolledClass(ctx context.Context, studentID, classID string) error
		AdjustTotalStudents(ctx context.Context, teacherID string, delta int) error
		SetTotalStudents(ctx context.Context, teacherID string, total int) error
	}

	// Directory is the part of the user service other domains depend on.
	Directory interface {
		GetByID(ctx context.Context, id string) (User, error)
		RecordEnrollment(ctx context.Context, studentID, teacherID, classID string) error
		ReleaseEnrollment(ctx context.Context, studentID, teacherID, classID string) error
		SetTotalStudents(ctx context.Context, teacherID string, total int) error
	}

	Service struct {
		repo Repository
	}
)

var _ Directory = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	nu.Clean()
	if err := svc.repo.CheckUsernameUniqueness(ctx, nu.Username, nu.Email); err != nil {
		return User{}, err
	}

	now := NowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// Authenticate checks the credentials and stamps the user's last login.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr.LastLogin = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

// RecordEnrollment adds classID to the student's classes and counts one more student for the teacher.
// The student side is undone if the teacher side fails.
func (svc *Service) RecordEnrollment(ctx context.Context, studentID, teacherID, classID string) error {
	if err := svc.repo.AddEnrolledClass(ctx, studentID, classID); err != nil {
		return errors.Wrap(err, "adding enrolled class")
	}
	if err := svc.repo.AdjustTotalStudents(ctx, teacherID, 1); err != nil {
		if rbErr := svc.repo.RemoveEnrolledClass(ctx, studentID, classID); rbErr != nil {
			return errors.Wrapf(err, "incrementing teacher students (rollback failed: %v)", rbErr)
		}
		return errors.Wrap(err, "incrementing teacher students")
	}
	return nil
}

// ReleaseEnrollment compensates RecordEnrollment.
func (svc *Service) ReleaseEnrollment(ctx context.Context, studentID, teacherID, classID string) error {
	if err := svc.repo.RemoveEnrolledClass(ctx, studentID, classID); err != nil {
		return errors.Wrap(err, "removing enrolled class")
	}
	if err := svc.repo.AdjustTotalStudents(ctx, teacherID, -1); err != nil {
		return errors.Wrap(err, "decrementing teacher students")
	}
	return nil
}

// SetTotalStudents overwrites the teacher's student counter, eg. after a recount.
func (svc *Service) SetTotalStudents(ctx context.Context, teacherID string, total int) error {
	if total < 0 {
		total = 0
	}
	return errors.Wrap(svc.repo.SetTotalStudents(ctx, teacherID, total), "setting total students")
}
