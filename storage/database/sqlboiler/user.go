package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database"
)

const userTable = "user"

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles", "enrolled_classes", "total_students",
	"password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID              string         `boil:"id"`
	Name            string         `boil:"name"`
	Username        null.String    `boil:"username"`
	Email           null.String    `boil:"email"`
	IsActive        bool           `boil:"is_active"`
	Roles           pq.StringArray `boil:"roles"`
	EnrolledClasses pq.StringArray `boil:"enrolled_classes"`
	TotalStudents   int            `boil:"total_students"`
	PasswordHash    null.Bytes     `boil:"password_hash"`
	CreatedAt       time.Time      `boil:"created_at"`
	UpdatedAt       time.Time      `boil:"updated_at"`
	LastLogin       null.Time      `boil:"last_login"`
}

func (r *userRow) values() []interface{} {
	return []interface{}{
		r.ID, r.Name, r.Username, r.Email, r.IsActive, r.Roles, r.EnrolledClasses, r.TotalStudents,
		r.PasswordHash, r.CreatedAt, r.UpdatedAt, r.LastLogin,
	}
}

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{exec: exec}
}

func (repo userRepository) boil(usr user.User) *userRow {
	roles, classes := usr.Roles, usr.EnrolledClasses
	if roles == nil {
		roles = []string{}
	}
	if classes == nil {
		classes = []string{}
	}
	return &userRow{
		ID:              usr.ID,
		Name:            usr.Name,
		Username:        nullString(usr.Username),
		Email:           nullString(usr.Email),
		IsActive:        usr.IsActive,
		Roles:           roles,
		EnrolledClasses: classes,
		TotalStudents:   usr.TotalStudents,
		PasswordHash:    null.BytesFrom(usr.PasswordHash),
		CreatedAt:       usr.CreatedAt.UTC(),
		UpdatedAt:       usr.UpdatedAt.UTC(),
		LastLogin:       nullTime(usr.LastLogin),
	}
}

func (repo userRepository) unboil(r *userRow) user.User {
	return user.User{
		ID:              r.ID,
		Name:            r.Name,
		Username:        r.Username.String,
		Email:           r.Email.String,
		IsActive:        r.IsActive,
		Roles:           r.Roles,
		EnrolledClasses: r.EnrolledClasses,
		TotalStudents:   r.TotalStudents,
		PasswordHash:    r.PasswordHash.Bytes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastLogin:       r.LastLogin.Time,
	}
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string) error {
	var res struct {
		Exists bool `boil:"exists"`
	}
	err := queries.Raw(
		`SELECT EXISTS (SELECT 1 FROM "user" WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)) AS exists`,
		username, email,
	).Bind(ctx, repo.exec, &res)
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if res.Exists {
		return user.ErrUserExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.boil(usr)
	if _, err := exec(ctx, repo.exec, insertQuery(userTable, userColumns), row.values()...); err != nil {
		if database.IsUniqueViolation(err, "") {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.unboil(row), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var row userRow
	var err error

	switch {
	case filter.ID != "":
		if !validID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		err = queries.Raw(`SELECT * FROM "user" WHERE id = $1`, filter.ID).Bind(ctx, repo.exec, &row)
	case filter.UsernameOrEmail != "":
		err = queries.Raw(
			`SELECT * FROM "user" WHERE username = $1 OR email = $1 LIMIT 1`, filter.UsernameOrEmail,
		).Bind(ctx, repo.exec, &row)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.unboil(&row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := repo.boil(usr)
	cols := userColumns[1:]
	args := append(row.values()[1:], row.ID)
	n, err := exec(ctx, repo.exec, updateQuery(userTable, cols), args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo userRepository) AddEnrolledClass(ctx context.Context, studentID, classID string) error {
	_, err := exec(ctx, repo.exec,
		`UPDATE "user" SET enrolled_classes = array_append(enrolled_classes, $2::text)
		WHERE id = $1 AND NOT ($2::text = ANY (enrolled_classes))`,
		studentID, classID)
	return errors.Wrap(err, "adding enrolled class")
}

func (repo userRepository) RemoveEnrolledClass(ctx context.Context, studentID, classID string) error {
	_, err := exec(ctx, repo.exec,
		`UPDATE "user" SET enrolled_classes = array_remove(enrolled_classes, $2::text) WHERE id = $1`,
		studentID, classID)
	return errors.Wrap(err, "removing enrolled class")
}

func (repo userRepository) SetTotalStudents(ctx context.Context, teacherID string, total int) error {
	n, err := exec(ctx, repo.exec, `UPDATE "user" SET total_students = $2 WHERE id = $1`, teacherID, total)
	if err != nil {
		return errors.Wrap(err, "setting total students")
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo userRepository) AdjustTotalStudents(ctx context.Context, teacherID string, delta int) error {
	n, err := exec(ctx, repo.exec,
		`UPDATE "user" SET total_students = GREATEST(total_students + $2, 0) WHERE id = $1`,
		teacherID, delta)
	if err != nil {
		return errors.Wrap(err, "adjusting total students")
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}
