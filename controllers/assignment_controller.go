package controllers

import (
	"encoding/json"
	"strconv"

	"github.com/ashishlukka1/skill-caravan-sub000/config"
	"github.com/ashishlukka1/skill-caravan-sub000/models"
	"github.com/ashishlukka1/skill-caravan-sub000/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AssignmentController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Issuer utils.CertificateIssuer
}

func NewAssignmentController(db *gorm.DB, cfg *config.Config, issuer utils.CertificateIssuer) *AssignmentController {
	return &AssignmentController{DB: db, Cfg: cfg, Issuer: issuer}
}

// SubmitAssignment scores a submission against the canonical question order
// of the currently assigned set. A perfect score completes the unit, clears
// the assigned set and may finish the course.
func (asc *AssignmentController) SubmitAssignment(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, asc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("courseId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}
	unitIndex, err := strconv.Atoi(c.Params("unitIndex"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid unit index",
		})
	}

	var input struct {
		Submission []int `json:"submission"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}

	course, err := loadCourse(asc.DB, courseID)
	if err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	unit := unitByIndex(course, unitIndex)
	if unit == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unit not found",
		})
	}

	enrollment, err := loadEnrollment(asc.DB, userID, courseID)
	if err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Not enrolled in this course",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}
	if err := ensureUnitsProgress(asc.DB, enrollment, course); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not initialize progress",
		})
	}

	up := unitProgressByIndex(enrollment, unitIndex)
	ap := up.Assignment
	if ap == nil || ap.AssignedSetNumber == nil {
		if models.AssignmentSatisfied(ap) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Assignment already completed",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No assignment set assigned",
		})
	}

	if ap.Blocked {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Assessment blocked due to integrity violations",
		})
	}

	set := setByNumber(unit, *ap.AssignedSetNumber)
	if set == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Assigned set no longer exists",
		})
	}

	score := 0
	for i, q := range set.Questions {
		if i < len(input.Submission) && input.Submission[i] == q.CorrectAnswer {
			score += q.Marks
		}
	}
	totalScore := set.TotalMarks()
	isPerfect := score == totalScore

	submissionJSON, _ := json.Marshal(input.Submission)
	fields := map[string]interface{}{
		"status":     models.AssignmentSubmitted,
		"submission": string(submissionJSON),
		"score":      score,
		"max_score":  totalScore,
	}
	if isPerfect {
		// Locks out further reassignment of this unit.
		fields["assigned_set_number"] = nil
	}

	ok, err := saveAssignmentGuarded(asc.DB, ap, fields)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save submission",
		})
	}
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Progress was modified concurrently, retry",
		})
	}

	ap.Status = models.AssignmentSubmitted
	ap.Score = score
	ap.MaxScore = totalScore
	if isPerfect {
		ap.AssignedSetNumber = nil
	}

	if err := refreshUnitCompletion(asc.DB, unit, up); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save progress",
		})
	}
	if _, err := refreshEnrollmentProgress(asc.DB, enrollment); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save progress",
		})
	}

	issueCertificateIfDue(asc.DB, asc.Issuer, enrollment, course)

	message := "Assignment submitted"
	if isPerfect {
		message = "Assignment completed with a perfect score"
	}

	return c.JSON(fiber.Map{
		"message":    message,
		"score":      score,
		"totalScore": totalScore,
		"isPerfect":  isPerfect,
		"progress":   enrollment.Progress,
	})
}
