package controllers

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"github.com/ashishlukka1/skill-caravan-sub000/config"
	"github.com/ashishlukka1/skill-caravan-sub000/models"
	"github.com/ashishlukka1/skill-caravan-sub000/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ProgressController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Issuer utils.CertificateIssuer
}

func NewProgressController(db *gorm.DB, cfg *config.Config, issuer utils.CertificateIssuer) *ProgressController {
	return &ProgressController{DB: db, Cfg: cfg, Issuer: issuer}
}

// loadContext resolves the caller's enrollment and the course content tree,
// backfilling unit progress rows on the way.
func (pc *ProgressController) loadContext(c *fiber.Ctx) (uint, *models.Course, *models.Enrollment, error) {
	userID, err := utils.ExtractUserIDFromToken(c, pc.Cfg)
	if err != nil {
		return 0, nil, nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("courseId"))
	if err != nil {
		return 0, nil, nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	course, err := loadCourse(pc.DB, courseID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil, nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return 0, nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	enrollment, err := loadEnrollment(pc.DB, userID, courseID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil, nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Not enrolled in this course",
			})
		}
		return 0, nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if err := ensureUnitsProgress(pc.DB, enrollment, course); err != nil {
		return 0, nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not initialize progress",
		})
	}

	return userID, course, enrollment, nil
}

func (pc *ProgressController) GetProgress(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	return c.JSON(fiber.Map{
		"enrollment": enrollmentResponse(enrollment, course),
	})
}

func (pc *ProgressController) UpdateLessonProgress(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid unit index",
		})
	}
	lessonIndex, err := strconv.Atoi(c.Params("lessonIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid lesson index",
		})
	}

	unit := unitByIndex(course, unitIndex)
	if unit == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not found",
		})
	}
	if lessonIndex < 0 || lessonIndex >= len(unit.Lessons) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lesson not found",
		})
	}

	var input struct {
		Completed     bool `json:"completed"`
		ResourcesDone int  `json:"resources_done"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	up := unitProgressByIndex(enrollment, unitIndex)

	var lp models.LessonProgress
	err = pc.DB.Where("unit_progress_id = ? AND lesson_index = ?", up.ID, lessonIndex).First(&lp).Error
	if err != nil {
		if !isNotFound(err) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not query database",
			})
		}
		lp = models.LessonProgress{
			UnitProgressID: up.ID,
			LessonIndex:    lessonIndex,
		}
	}

	// Marking an already-completed lesson again is a no-op on the flag;
	// LastAccessed moves forward regardless.
	lp.LastAccessed = time.Now()
	if input.Completed {
		lp.Completed = true
	}
	if input.ResourcesDone > lp.ResourcesDone {
		lp.ResourcesDone = input.ResourcesDone
	}

	if err := pc.DB.Save(&lp).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save progress",
		})
	}

	enrollment, course, ferr = pc.recomputeAfterMutation(c, enrollment, course, unitIndex)
	if ferr != nil {
		return ferr
	}

	return c.JSON(fiber.Map{
		"message":    "Progress updated",
		"enrollment": enrollmentResponse(enrollment, course),
	})
}

// recomputeAfterMutation re-derives unit completion and the course roll-up,
// firing certificate issuance on the 100% transition.
func (pc *ProgressController) recomputeAfterMutation(c *fiber.Ctx, enrollment *models.Enrollment, course *models.Course, unitIndex int) (*models.Enrollment, *models.Course, error) {
	refreshed, err := loadEnrollment(pc.DB, enrollment.UserID, int(enrollment.CourseID))
	if err != nil {
		return nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	unit := unitByIndex(course, unitIndex)
	up := unitProgressByIndex(refreshed, unitIndex)
	if unit != nil && up != nil {
		if err := refreshUnitCompletion(pc.DB, unit, up); err != nil {
			return nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not save progress",
			})
		}
	}

	if _, err := refreshEnrollmentProgress(pc.DB, refreshed); err != nil {
		return nil, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save progress",
		})
	}

	issueCertificateIfDue(pc.DB, pc.Issuer, refreshed, course)

	return refreshed, course, nil
}

func (pc *ProgressController) AssignSet(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid unit index",
		})
	}

	unit := unitByIndex(course, unitIndex)
	if unit == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not found",
		})
	}
	if len(unit.AssignmentSets) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit has no assignment sets",
		})
	}

	var input struct {
		SetNumber  *int `json:"setNumber"`
		ExcludeSet *int `json:"excludeSet"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	up := unitProgressByIndex(enrollment, unitIndex)
	ap, ferr := pc.ensureAssignment(c, up)
	if ferr != nil {
		return ferr
	}

	if ap.Blocked {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Assessment blocked due to integrity violations",
		})
	}

	// Idempotent-completion guard: a perfectly scored assignment stays done.
	if models.AssignmentSatisfied(ap) && ap.AssignedSetNumber == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Assignment already completed",
		})
	}

	candidates := make([]*models.AssignmentSet, 0, len(unit.AssignmentSets))
	for i := range unit.AssignmentSets {
		set := &unit.AssignmentSets[i]
		if input.ExcludeSet != nil && set.SetNumber == *input.ExcludeSet {
			continue
		}
		candidates = append(candidates, set)
	}
	if len(candidates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No assignment sets available",
		})
	}

	var chosen *models.AssignmentSet
	if input.SetNumber != nil {
		for _, set := range candidates {
			if set.SetNumber == *input.SetNumber {
				chosen = set
				break
			}
		}
	}
	if chosen == nil {
		chosen = candidates[rand.Intn(len(candidates))]
	}

	// Display order is shuffled server-side; scoring stays canonical.
	perm := rand.Perm(len(chosen.Questions))
	permJSON, _ := json.Marshal(perm)

	setNumber := chosen.SetNumber
	// Assigning a set is a full reset of the attempt, not a merge:
	// in-progress answers are intentionally discarded.
	ok, err := saveAssignmentGuarded(pc.DB, ap, map[string]interface{}{
		"assigned_set_number": setNumber,
		"status":              models.AssignmentNotStarted,
		"submission":          "[]",
		"shuffle":             string(permJSON),
		"score":               0,
		"max_score":           chosen.TotalMarks(),
		"attempt_count":       ap.AttemptCount + 1,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save progress",
		})
	}
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Progress was modified concurrently, retry",
		})
	}

	enrollment, course, ferr = pc.recomputeAfterMutation(c, enrollment, course, unitIndex)
	if ferr != nil {
		return ferr
	}

	questions := make([]fiber.Map, 0, len(chosen.Questions))
	for _, q := range chosen.Questions {
		var options []string
		json.Unmarshal([]byte(q.Options), &options)
		questions = append(questions, fiber.Map{
			"order":   q.SequenceOrder,
			"text":    q.Text,
			"options": options,
			"marks":   q.Marks,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Assignment set assigned",
		"assignment": fiber.Map{
			"set_number": chosen.SetNumber,
			"title":      chosen.Title,
			"difficulty": chosen.Difficulty,
			"questions":  questions,
			"shuffle":    perm,
		},
		"enrollment": enrollmentResponse(enrollment, course),
	})
}

func (pc *ProgressController) ensureAssignment(c *fiber.Ctx, up *models.UnitProgress) (*models.AssignmentProgress, error) {
	if up.Assignment != nil {
		return up.Assignment, nil
	}
	ap := models.AssignmentProgress{
		UnitProgressID: up.ID,
		Status:         models.AssignmentNotStarted,
		Submission:     "[]",
	}
	if err := pc.DB.Create(&ap).Error; err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not initialize assignment progress",
		})
	}
	up.Assignment = &ap
	return &ap, nil
}

// ReportViolation counts one fullscreen/visibility violation for the unit's
// active assessment. The counter is clamped at the threshold; once blocked,
// further reports change nothing until an admin reset.
func (pc *ProgressController) ReportViolation(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid unit index",
		})
	}

	unit := unitByIndex(course, unitIndex)
	if unit == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not found",
		})
	}
	if len(unit.AssignmentSets) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit has no assessment",
		})
	}

	up := unitProgressByIndex(enrollment, unitIndex)
	ap, ferr := pc.ensureAssignment(c, up)
	if ferr != nil {
		return ferr
	}

	if !ap.Blocked {
		ap.ViolationCount++
		if ap.ViolationCount >= pc.Cfg.ViolationThreshold {
			ap.ViolationCount = pc.Cfg.ViolationThreshold
			ap.Blocked = true
		}
		err := pc.DB.Model(&models.AssignmentProgress{}).
			Where("id = ?", ap.ID).
			Updates(map[string]interface{}{
				"violation_count": ap.ViolationCount,
				"blocked":         ap.Blocked,
			}).Error
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not save violation",
			})
		}
	}

	return c.JSON(fiber.Map{
		"violationCount": ap.ViolationCount,
		"blocked":        ap.Blocked,
		"attemptsLeft":   max(0, pc.Cfg.ViolationThreshold-ap.ViolationCount),
	})
}

func (pc *ProgressController) GetBlockStatus(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid unit index",
		})
	}

	if unitByIndex(course, unitIndex) == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not found",
		})
	}

	violationCount, blocked := 0, false
	if up := unitProgressByIndex(enrollment, unitIndex); up != nil && up.Assignment != nil {
		violationCount = up.Assignment.ViolationCount
		blocked = up.Assignment.Blocked
	}

	return c.JSON(fiber.Map{
		"violationCount": violationCount,
		"blocked":        blocked,
	})
}

// ResetBlock clears a learner's violation state and records who did it.
func (pc *ProgressController) ResetBlock(c *fiber.Ctx) error {
	adminID, err := utils.ExtractUserIDFromToken(c, pc.Cfg)
	if err != nil {
		return utils.Unauthorized(c, "Unauthorized")
	}

	courseID, err := strconv.Atoi(c.Params("courseId"))
	if err != nil {
		return utils.BadRequest(c, "Invalid course ID")
	}
	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return utils.BadRequest(c, "Invalid unit index")
	}
	targetID, err := strconv.Atoi(c.Params("userId"))
	if err != nil {
		return utils.BadRequest(c, "Invalid user ID")
	}

	enrollment, err := loadEnrollment(pc.DB, uint(targetID), courseID)
	if err != nil {
		if isNotFound(err) {
			return utils.NotFound(c, "Enrollment not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	up := unitProgressByIndex(enrollment, unitIndex)
	if up == nil || up.Assignment == nil {
		return utils.NotFound(c, "No assignment progress for this unit")
	}
	ap := up.Assignment

	reset := models.ViolationReset{
		AssignmentProgressID: ap.ID,
		ResetBy:              adminID,
		PreviousCount:        ap.ViolationCount,
		WasBlocked:           ap.Blocked,
	}
	if err := pc.DB.Create(&reset).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	err = pc.DB.Model(&models.AssignmentProgress{}).
		Where("id = ?", ap.ID).
		Updates(map[string]interface{}{
			"violation_count": 0,
			"blocked":         false,
		}).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"violationCount": 0,
		"blocked":        false,
		"reset_by":       adminID,
	})
}

// IssueCertificate is the explicit retry path when automatic issuance failed.
func (pc *ProgressController) IssueCertificate(c *fiber.Ctx) error {
	_, course, enrollment, ferr := pc.loadContext(c)
	if ferr != nil {
		return ferr
	}

	if enrollment.Progress != 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Course not completed",
		})
	}

	if !enrollment.CertificateIssued {
		issueCertificateIfDue(pc.DB, pc.Issuer, enrollment, course)
	}

	if !enrollment.CertificateIssued {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Certificate generation failed, try again later",
		})
	}

	return c.JSON(fiber.Map{
		"certificate": fiber.Map{
			"issued":          true,
			"issued_at":       enrollment.IssuedAt,
			"certificate_id":  enrollment.CertificateID,
			"certificate_url": enrollment.CertificateURL,
			"storage_url":     enrollment.StorageURL,
		},
	})
}
