package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ashishlukka1/skill-caravan-sub000/models"
	"github.com/ashishlukka1/skill-caravan-sub000/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// loadCourse fetches a course with its full content tree in canonical order.
func loadCourse(db *gorm.DB, courseID int) (*models.Course, error) {
	var course models.Course
	err := db.
		Preload("Units", func(db *gorm.DB) *gorm.DB { return db.Order("unit_index") }).
		Preload("Units.Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("lesson_index") }).
		Preload("Units.AssignmentSets", func(db *gorm.DB) *gorm.DB { return db.Order("set_number") }).
		Preload("Units.AssignmentSets.Questions", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_order") }).
		Preload("Template").
		First(&course, courseID).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// loadEnrollment fetches the user's enrollment for a course with all
// progress rows attached, units in index order.
func loadEnrollment(db *gorm.DB, userID uint, courseID int) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := db.
		Preload("UnitsProgress", func(db *gorm.DB) *gorm.DB { return db.Order("unit_index") }).
		Preload("UnitsProgress.Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("lesson_index") }).
		Preload("UnitsProgress.Assignment").
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ensureUnitsProgress backfills missing UnitProgress rows so the enrollment
// always carries one row per course unit. Courses can gain units after
// people enrolled; older enrollments catch up lazily on their next read.
func ensureUnitsProgress(db *gorm.DB, enrollment *models.Enrollment, course *models.Course) error {
	existing := make(map[int]bool, len(enrollment.UnitsProgress))
	for _, up := range enrollment.UnitsProgress {
		existing[up.UnitIndex] = true
	}

	created := false
	for _, unit := range course.Units {
		if existing[unit.UnitIndex] {
			continue
		}
		up := models.UnitProgress{
			EnrollmentID: enrollment.ID,
			UnitIndex:    unit.UnitIndex,
		}
		if err := db.Create(&up).Error; err != nil {
			return err
		}
		created = true
	}

	if created {
		refreshed, err := loadEnrollment(db, enrollment.UserID, int(enrollment.CourseID))
		if err != nil {
			return err
		}
		*enrollment = *refreshed
	}
	return nil
}

func unitByIndex(course *models.Course, unitIndex int) *models.Unit {
	for i := range course.Units {
		if course.Units[i].UnitIndex == unitIndex {
			return &course.Units[i]
		}
	}
	return nil
}

func unitProgressByIndex(enrollment *models.Enrollment, unitIndex int) *models.UnitProgress {
	for i := range enrollment.UnitsProgress {
		if enrollment.UnitsProgress[i].UnitIndex == unitIndex {
			return &enrollment.UnitsProgress[i]
		}
	}
	return nil
}

func setByNumber(unit *models.Unit, setNumber int) *models.AssignmentSet {
	for i := range unit.AssignmentSets {
		if unit.AssignmentSets[i].SetNumber == setNumber {
			return &unit.AssignmentSets[i]
		}
	}
	return nil
}

func completedLessonCount(up *models.UnitProgress) int {
	count := 0
	for _, lp := range up.Lessons {
		if lp.Completed {
			count++
		}
	}
	return count
}

// refreshUnitCompletion re-derives the unit's completed flag through the
// single rule in models.UnitIsComplete and persists it when it changed.
func refreshUnitCompletion(db *gorm.DB, unit *models.Unit, up *models.UnitProgress) error {
	completed := models.UnitIsComplete(
		len(unit.Lessons),
		completedLessonCount(up),
		len(unit.AssignmentSets) > 0,
		up.Assignment,
	)
	if completed == up.Completed {
		return nil
	}
	up.Completed = completed
	return db.Model(&models.UnitProgress{}).
		Where("id = ?", up.ID).
		Update("completed", completed).Error
}

// refreshEnrollmentProgress fully recomputes the course percentage from the
// units (never adjusted incrementally) and flips status to completed when it
// first reaches 100. Returns true on that transition.
func refreshEnrollmentProgress(db *gorm.DB, enrollment *models.Enrollment) (bool, error) {
	var units []models.UnitProgress
	if err := db.Where("enrollment_id = ?", enrollment.ID).Find(&units).Error; err != nil {
		return false, err
	}

	completed := 0
	for _, up := range units {
		if up.Completed {
			completed++
		}
	}

	enrollment.Progress = models.ProgressPercent(completed, len(units))

	became := false
	if enrollment.Progress == 100 && enrollment.Status == models.EnrollmentActive {
		enrollment.Status = models.EnrollmentCompleted
		became = true
	}

	err := db.Model(&models.Enrollment{}).
		Where("id = ?", enrollment.ID).
		Updates(map[string]interface{}{
			"progress": enrollment.Progress,
			"status":   enrollment.Status,
		}).Error
	return became, err
}

// issueCertificateIfDue invokes the certificate issuer at most once per
// enrollment. Issuance failures are logged and swallowed: the progress
// update already committed must stand, and the explicit certificate
// endpoint can retry later.
func issueCertificateIfDue(db *gorm.DB, issuer utils.CertificateIssuer, enrollment *models.Enrollment, course *models.Course) {
	if enrollment.CertificateIssued || enrollment.Progress != 100 || issuer == nil {
		return
	}

	if course.Template == nil {
		log.Printf("certificate skipped for enrollment %d: course %d has no template", enrollment.ID, course.ID)
		return
	}

	var user models.User
	if err := db.First(&user, enrollment.UserID).Error; err != nil {
		log.Printf("certificate skipped for enrollment %d: %v", enrollment.ID, err)
		return
	}

	issued, err := issuer.Issue(&utils.CertificateRequest{
		LearnerName: user.Name,
		CourseTitle: course.Title,
		CompletedAt: time.Now().Format("2006-01-02"),
		TemplateURL: course.Template.ImageURL,
		LayoutJSON:  course.Template.LayoutJSON,
		FontFamily:  course.Template.FontFamily,
		FontSize:    course.Template.FontSize,
	})
	if err != nil {
		log.Printf("certificate generation failed for enrollment %d: %v", enrollment.ID, err)
		return
	}

	now := issued.IssuedAt
	enrollment.CertificateIssued = true
	enrollment.CertificateID = issued.CertificateID
	enrollment.CertificateURL = issued.CertificateURL
	enrollment.StorageURL = issued.StorageURL
	enrollment.IssuedAt = &now

	err = db.Model(&models.Enrollment{}).
		Where("id = ? AND certificate_issued = ?", enrollment.ID, false).
		Updates(map[string]interface{}{
			"certificate_issued": true,
			"certificate_id":     issued.CertificateID,
			"certificate_url":    issued.CertificateURL,
			"storage_url":        issued.StorageURL,
			"issued_at":          now,
		}).Error
	if err != nil {
		log.Printf("certificate record save failed for enrollment %d: %v", enrollment.ID, err)
	}
}

// saveAssignmentGuarded writes the assignment row only if nobody else
// touched it since it was read, bumping the version column.
func saveAssignmentGuarded(db *gorm.DB, ap *models.AssignmentProgress, fields map[string]interface{}) (bool, error) {
	fields["version"] = ap.Version + 1
	res := db.Model(&models.AssignmentProgress{}).
		Where("id = ? AND version = ?", ap.ID, ap.Version).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	ap.Version++
	return true, nil
}

func parseIntSlice(raw string) []int {
	if raw == "" {
		return []int{}
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []int{}
	}
	return out
}

// enrollmentResponse is the wire shape returned by every progress mutation.
func enrollmentResponse(enrollment *models.Enrollment, course *models.Course) fiber.Map {
	units := make([]fiber.Map, 0, len(enrollment.UnitsProgress))
	for i := range enrollment.UnitsProgress {
		up := &enrollment.UnitsProgress[i]
		unit := unitByIndex(course, up.UnitIndex)

		totalLessons := 0
		hasAssignment := false
		if unit != nil {
			totalLessons = len(unit.Lessons)
			hasAssignment = len(unit.AssignmentSets) > 0
		}

		phase, phaseSet := models.PhaseOf(totalLessons, completedLessonCount(up), hasAssignment, up.Assignment)

		lessons := make([]fiber.Map, 0, len(up.Lessons))
		for _, lp := range up.Lessons {
			lessons = append(lessons, fiber.Map{
				"lesson_index":   lp.LessonIndex,
				"completed":      lp.Completed,
				"resources_done": lp.ResourcesDone,
				"last_accessed":  lp.LastAccessed,
			})
		}

		var assignment fiber.Map
		if up.Assignment != nil {
			assignment = fiber.Map{
				"assigned_set_number": up.Assignment.AssignedSetNumber,
				"status":              up.Assignment.Status,
				"submission":          parseIntSlice(up.Assignment.Submission),
				"shuffle":             parseIntSlice(up.Assignment.Shuffle),
				"score":               up.Assignment.Score,
				"max_score":           up.Assignment.MaxScore,
				"attempt_count":       up.Assignment.AttemptCount,
				"violation_count":     up.Assignment.ViolationCount,
				"blocked":             up.Assignment.Blocked,
			}
		}

		unitMap := fiber.Map{
			"unit_index": up.UnitIndex,
			"completed":  up.Completed,
			"phase":      phase,
			"lessons":    lessons,
			"assignment": assignment,
		}
		if phase == models.PhaseAssignmentInProgress {
			unitMap["current_set"] = phaseSet
		}
		units = append(units, unitMap)
	}

	return fiber.Map{
		"id":        enrollment.ID,
		"course_id": enrollment.CourseID,
		"status":    enrollment.Status,
		"progress":  enrollment.Progress,
		"certificate": fiber.Map{
			"issued":          enrollment.CertificateIssued,
			"issued_at":       enrollment.IssuedAt,
			"certificate_id":  enrollment.CertificateID,
			"certificate_url": enrollment.CertificateURL,
			"storage_url":     enrollment.StorageURL,
		},
		"units_progress": units,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
