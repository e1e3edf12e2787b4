package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentDropped   = "dropped"
)

const (
	AssignmentNotStarted = "not_started"
	AssignmentInProgress = "in_progress"
	AssignmentSubmitted  = "submitted"
)

// Enrollment is one user's relationship to one course. Progress state is
// normalized into UnitProgress/LessonProgress/AssignmentProgress rows rather
// than embedded documents, so each row can be updated and locked on its own.
type Enrollment struct {
	gorm.Model
	UserID   uint   `gorm:"index;not null;uniqueIndex:idx_enrollment_user_course"`
	CourseID uint   `gorm:"index;not null;uniqueIndex:idx_enrollment_user_course"`
	Status   string `gorm:"default:active"` // active, completed, dropped
	Progress int    `gorm:"default:0"`      // derived percentage, always recomputed

	// Certificate issuance record. Once issued it is never overwritten.
	CertificateIssued bool `gorm:"default:false"`
	CertificateID     string
	CertificateURL    string
	StorageURL        string
	IssuedAt          *time.Time

	UnitsProgress []UnitProgress
}

type UnitProgress struct {
	gorm.Model
	EnrollmentID uint `gorm:"index;not null;uniqueIndex:idx_unit_progress_enrollment_unit"`
	UnitIndex    int  `gorm:"not null;uniqueIndex:idx_unit_progress_enrollment_unit"`
	Completed    bool `gorm:"default:false"`

	Lessons    []LessonProgress
	Assignment *AssignmentProgress
}

type LessonProgress struct {
	gorm.Model
	UnitProgressID uint `gorm:"index;not null"`
	LessonIndex    int  `gorm:"not null"`
	Completed      bool `gorm:"default:false"`
	ResourcesDone  int  `gorm:"default:0"`
	LastAccessed   time.Time
}

// AssignmentProgress tracks the learner's current attempt at a unit's
// assessment. Absent until a set is first assigned or a violation is
// reported. The Version column guards submit/assign writes against
// concurrent requests for the same row.
type AssignmentProgress struct {
	gorm.Model
	UnitProgressID    uint   `gorm:"uniqueIndex;not null"`
	AssignedSetNumber *int   // nil: not assigned, or cleared after a perfect score
	Status            string `gorm:"default:not_started"`
	Submission        string // JSON []int, canonical question order
	Shuffle           string // JSON permutation issued with the set, display-only
	Score             int    `gorm:"default:0"`
	MaxScore          int    `gorm:"default:0"` // total marks of the set scored against
	AttemptCount      int    `gorm:"default:0"`
	ViolationCount    int    `gorm:"default:0"`
	Blocked           bool   `gorm:"default:false"`
	Version           int    `gorm:"default:0"`
}

// ViolationReset is the audit record written whenever an admin clears a
// learner's integrity block.
type ViolationReset struct {
	gorm.Model
	AssignmentProgressID uint `gorm:"index;not null"`
	ResetBy              uint `gorm:"not null"`
	PreviousCount        int
	WasBlocked           bool
}

// UnitPhase is the explicit state of one unit of an enrollment. Completion
// and phase are always derived through PhaseOf / UnitIsComplete so the
// lesson path and the submission path cannot disagree.
type UnitPhase string

const (
	PhaseNotStarted           UnitPhase = "not_started"
	PhaseLessonsInProgress    UnitPhase = "lessons_in_progress"
	PhaseAwaitingAssignment   UnitPhase = "awaiting_assignment"
	PhaseAssignmentInProgress UnitPhase = "assignment_in_progress"
	PhaseCompleted            UnitPhase = "completed"
)

// AssignmentSatisfied reports whether the unit's assessment requirement is
// met: a submitted attempt that scored every obtainable mark. Sets with zero
// questions are rejected at authoring time, so MaxScore is never 0 for a
// real submission.
func AssignmentSatisfied(ap *AssignmentProgress) bool {
	return ap != nil && ap.Status == AssignmentSubmitted && ap.Score == ap.MaxScore
}

// UnitIsComplete is the single completion rule for a unit: every lesson
// completed, and if the unit has assignment sets, a perfect submitted score.
func UnitIsComplete(totalLessons, completedLessons int, hasAssignment bool, ap *AssignmentProgress) bool {
	if completedLessons < totalLessons {
		return false
	}
	if !hasAssignment {
		return true
	}
	return AssignmentSatisfied(ap)
}

// PhaseOf derives the explicit unit phase from the stored rows. The second
// return value is the currently assigned set number, meaningful only for
// PhaseAssignmentInProgress.
func PhaseOf(totalLessons, completedLessons int, hasAssignment bool, ap *AssignmentProgress) (UnitPhase, int) {
	if UnitIsComplete(totalLessons, completedLessons, hasAssignment, ap) {
		return PhaseCompleted, 0
	}
	if completedLessons == 0 && (ap == nil || ap.AttemptCount == 0) {
		return PhaseNotStarted, 0
	}
	if completedLessons < totalLessons {
		return PhaseLessonsInProgress, 0
	}
	if ap != nil && ap.AssignedSetNumber != nil {
		return PhaseAssignmentInProgress, *ap.AssignedSetNumber
	}
	return PhaseAwaitingAssignment, 0
}

// ProgressPercent is the course-level roll-up: round(100 * completed / total).
func ProgressPercent(completedUnits, totalUnits int) int {
	if totalUnits == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completedUnits) / float64(totalUnits)))
}
