package dummydb

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core/catalog"
)

type catalogRepository struct {
	classes *classTable
	lessons *lessonTable
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *DB) catalog.Repository {
	return &catalogRepository{classes: db.class, lessons: db.lesson}
}

func (repo *catalogRepository) CreateClass(_ context.Context, cls catalog.Class) (catalog.Class, error) {
	repo.classes.Lock()
	defer repo.classes.Unlock()
	repo.classes.table[cls.ID] = &cls
	return cls, nil
}

func (repo *catalogRepository) CreateLesson(_ context.Context, lsn catalog.Lesson) (catalog.Lesson, error) {
	repo.lessons.Lock()
	defer repo.lessons.Unlock()
	repo.lessons.table[lsn.ID] = &lsn
	return lsn, nil
}

func (repo *catalogRepository) GetClass(_ context.Context, id string) (catalog.Class, error) {
	repo.classes.RLock()
	defer repo.classes.RUnlock()
	if cls, ok := repo.classes.table[id]; ok {
		return *cls, nil
	}
	return catalog.Class{}, catalog.ErrClassNotFound
}

func (repo *catalogRepository) GetLesson(_ context.Context, id string) (catalog.Lesson, error) {
	repo.lessons.RLock()
	defer repo.lessons.RUnlock()
	if lsn, ok := repo.lessons.table[id]; ok {
		return *lsn, nil
	}
	return catalog.Lesson{}, catalog.ErrLessonNotFound
}

func (repo *catalogRepository) QueryClasses(_ context.Context) ([]catalog.Class, error) {
	repo.classes.RLock()
	defer repo.classes.RUnlock()

	classes := make([]catalog.Class, 0, len(repo.classes.table))
	for _, cls := range repo.classes.table {
		classes = append(classes, *cls)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].CreatedAt.Before(classes[j].CreatedAt) })
	return classes, nil
}

func (repo *catalogRepository) QueryPublishedLessons(_ context.Context, classID string) ([]catalog.Lesson, error) {
	repo.lessons.RLock()
	defer repo.lessons.RUnlock()

	lessons := make([]catalog.Lesson, 0)
	for _, lsn := range repo.lessons.table {
		if lsn.ClassID == classID && lsn.IsPublished() {
			lessons = append(lessons, *lsn)
		}
	}
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].MonthNumber != lessons[j].MonthNumber {
			return lessons[i].MonthNumber < lessons[j].MonthNumber
		}
		return lessons[i].Order < lessons[j].Order
	})
	return lessons, nil
}

func (repo *catalogRepository) CountPublishedLessons(ctx context.Context, classID string) (int, error) {
	lessons, err := repo.QueryPublishedLessons(ctx, classID)
	return len(lessons), err
}

func (repo *catalogRepository) AdjustEnrollmentCounters(_ context.Context, classID string, totalDelta, activeDelta int) error {
	repo.classes.Lock()
	defer repo.classes.Unlock()

	cls, ok := repo.classes.table[classID]
	if !ok {
		return catalog.ErrClassNotFound
	}
	cls.TotalEnrollments = floor0(cls.TotalEnrollments + totalDelta)
	cls.ActiveEnrollments = floor0(cls.ActiveEnrollments + activeDelta)
	return nil
}

func (repo *catalogRepository) SetEnrollmentCounters(_ context.Context, classID string, counters catalog.Counters) error {
	repo.classes.Lock()
	defer repo.classes.Unlock()

	cls, ok := repo.classes.table[classID]
	if !ok {
		return catalog.ErrClassNotFound
	}
	cls.TotalEnrollments = floor0(counters.Total)
	cls.ActiveEnrollments = floor0(counters.Active)
	return nil
}

func (repo *catalogRepository) AddRevenue(_ context.Context, classID string, amount decimal.Decimal) error {
	repo.classes.Lock()
	defer repo.classes.Unlock()

	cls, ok := repo.classes.table[classID]
	if !ok {
		return catalog.ErrClassNotFound
	}
	cls.TotalRevenue = cls.TotalRevenue.Add(amount)
	return nil
}

func floor0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
