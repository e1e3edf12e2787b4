package models

import "gorm.io/gorm"

const (
	CourseDraft         = "draft"
	CoursePendingReview = "pending_review"
	CoursePublished     = "published"
	CourseRejected      = "rejected"
)

type Course struct {
	gorm.Model
	Title       string `gorm:"not null"`
	Description string
	Difficulty  string // beginner, intermediate, advanced
	Status      string `gorm:"default:draft"` // draft, pending_review, published, rejected
	ReviewNote  string
	ReviewedBy  uint
	CreatedBy   uint
	Units       []Unit
	Template    *CertificateTemplate
}

type Unit struct {
	gorm.Model
	CourseID       uint `gorm:"index;not null"`
	UnitIndex      int  `gorm:"not null"`
	Title          string
	Lessons        []Lesson
	AssignmentSets []AssignmentSet
}

type Lesson struct {
	gorm.Model
	UnitID        uint `gorm:"index;not null"`
	LessonIndex   int  `gorm:"not null"`
	Title         string
	Content       string
	ResourceCount int
}

// AssignmentSet is one graded variant of a unit's assessment.
// A unit carries 1..3 sets; only one is assigned to a learner at a time.
type AssignmentSet struct {
	gorm.Model
	UnitID      uint `gorm:"index;not null"`
	SetNumber   int  `gorm:"not null"`
	Title       string
	Description string
	Difficulty  string
	Questions   []Question `gorm:"foreignKey:SetID"`
}

type Question struct {
	gorm.Model
	SetID         uint   `gorm:"index;not null"`
	SequenceOrder int    `gorm:"not null"`
	Text          string `gorm:"not null"`
	Options       string `gorm:"not null"` // JSON array of exactly 4 options
	CorrectAnswer int    `gorm:"not null"` // option index 0..3
	Marks         int    `gorm:"default:1"`
}

// TotalMarks is the maximum obtainable score for the set.
func (s *AssignmentSet) TotalMarks() int {
	total := 0
	for _, q := range s.Questions {
		total += q.Marks
	}
	return total
}

// CertificateTemplate holds the uploaded background image plus the
// normalized-percentage layout boxes the renderer composites text into.
type CertificateTemplate struct {
	gorm.Model
	CourseID   uint   `gorm:"uniqueIndex;not null"`
	ImageURL   string `gorm:"not null"`
	LayoutJSON string // boxes for name/course/date/QR, percentages of image size
	FontFamily string `gorm:"default:Helvetica"`
	FontSize   int    `gorm:"default:32"`
}
