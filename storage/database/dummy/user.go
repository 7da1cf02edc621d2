package dummydb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func copyUser(usr user.User) user.User {
	usr.Roles = append([]string(nil), usr.Roles...)
	usr.EnrolledClasses = append([]string(nil), usr.EnrolledClasses...)
	return usr
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.db.table {
		if (username != "" && usr.Username == username) || (email != "" && usr.Email == email) {
			return user.ErrUserExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if err := repo.CheckUsernameUniqueness(ctx, usr.Username, usr.Email); err != nil {
		return user.User{}, err
	}

	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return copyUser(*usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.UsernameOrEmail != "" {
		for _, usr := range repo.db.table {
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return copyUser(*usr), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	usr = copyUser(usr)
	repo.db.table[usr.ID] = &usr
	return copyUser(usr), nil
}

func (repo *userRepository) AddEnrolledClass(_ context.Context, studentID, classID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[studentID]
	if !ok {
		return user.ErrNotFound
	}
	for _, id := range usr.EnrolledClasses {
		if id == classID {
			return nil
		}
	}
	usr.EnrolledClasses = append(usr.EnrolledClasses, classID)
	return nil
}

func (repo *userRepository) RemoveEnrolledClass(_ context.Context, studentID, classID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[studentID]
	if !ok {
		return user.ErrNotFound
	}
	classes := usr.EnrolledClasses[:0]
	for _, id := range usr.EnrolledClasses {
		if id != classID {
			classes = append(classes, id)
		}
	}
	usr.EnrolledClasses = classes
	return nil
}

func (repo *userRepository) SetTotalStudents(_ context.Context, teacherID string, total int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[teacherID]
	if !ok {
		return user.ErrNotFound
	}
	usr.TotalStudents = total
	return nil
}

func (repo *userRepository) AdjustTotalStudents(_ context.Context, teacherID string, delta int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[teacherID]
	if !ok {
		return user.ErrNotFound
	}
	usr.TotalStudents += delta
	if usr.TotalStudents < 0 {
		usr.TotalStudents = 0
	}
	return nil
}
