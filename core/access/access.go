// Package access decides whether a student may view a lesson.
//
// HasAccess and HasAccessAll are pure: they only look at the enrollment and the lesson they are given.
// The enrollment must be the student's enrollment in the lesson's class, or nil if there is none.
package access

import (
	"github.com/trezcool/darasa/core/catalog"
	"github.com/trezcool/darasa/core/enrollment"
)

type Reason string

const (
	ReasonFree        Reason = "free"
	ReasonUnlocked    Reason = "unlocked"
	ReasonNotEnrolled Reason = "not_enrolled"
	ReasonInactive    Reason = "enrollment_inactive"
	ReasonMonthLocked Reason = "month_locked"
	ReasonWrongClass  Reason = "wrong_class"
	ReasonUnpublished Reason = "unpublished"
)

// HasAccess: free lessons need an enrollment (any status); paid lessons need an active enrollment
// with the lesson's month unlocked.
func HasAccess(enrl *enrollment.Enrollment, lsn catalog.Lesson) bool {
	ok, _ := decide(enrl, lsn)
	return ok
}

// HasAccessAll is HasAccess over lessons, element-wise.
func HasAccessAll(enrl *enrollment.Enrollment, lessons []catalog.Lesson) []bool {
	res := make([]bool, len(lessons))
	for i, lsn := range lessons {
		res[i] = HasAccess(enrl, lsn)
	}
	return res
}

func decide(enrl *enrollment.Enrollment, lsn catalog.Lesson) (bool, Reason) {
	switch {
	case enrl == nil:
		return false, ReasonNotEnrolled
	case enrl.ClassID != "" && enrl.ClassID != lsn.ClassID:
		return false, ReasonWrongClass
	case lsn.IsFree:
		return true, ReasonFree
	case !enrl.IsActive():
		return false, ReasonInactive
	case !enrl.IsMonthUnlocked(lsn.MonthNumber):
		return false, ReasonMonthLocked
	default:
		return true, ReasonUnlocked
	}
}
