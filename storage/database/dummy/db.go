// Package dummydb is an in-memory implementation of every repository, used in tests
// and when the database engine is "memory".
package dummydb

import (
	"sync"

	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
	"github.com/trezcool/darasa/core/payment"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user           *userTable
		class          *classTable
		lesson         *lessonTable
		enrollment     *enrollmentTable
		progress       *progressTable
		payment        *paymentTable
		reconciliation *reconciliationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	classTable struct {
		sync.RWMutex
		table map[string]*catalog.Class
	}

	lessonTable struct {
		sync.RWMutex
		table map[string]*catalog.Lesson
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[string]*enrollment.Enrollment
	}

	progressTable struct {
		sync.RWMutex
		table map[string]*enrollment.LessonProgress // {studentID/lessonID: progress}
	}

	paymentTable struct {
		sync.RWMutex
		table map[string]*payment.Payment
	}

	reconciliationTable struct {
		sync.RWMutex
		table map[string]*payment.Reconciliation
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:           &userTable{table: make(map[string]*user.User)},
		class:          &classTable{table: make(map[string]*catalog.Class)},
		lesson:         &lessonTable{table: make(map[string]*catalog.Lesson)},
		enrollment:     &enrollmentTable{table: make(map[string]*enrollment.Enrollment)},
		progress:       &progressTable{table: make(map[string]*enrollment.LessonProgress)},
		payment:        &paymentTable{table: make(map[string]*payment.Payment)},
		reconciliation: &reconciliationTable{table: make(map[string]*payment.Reconciliation)},
	}
	return db, nil
}
