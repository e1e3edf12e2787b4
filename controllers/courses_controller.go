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

type CoursesController struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewCoursesController(db *gorm.DB, cfg *config.Config) *CoursesController {
	return &CoursesController{DB: db, Cfg: cfg}
}

func (cc *CoursesController) CreateCourse(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	var input struct {
		Title       string `json:"title" validate:"required"`
		Description string `json:"description"`
		Difficulty  string `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	course := models.Course{
		Title:       input.Title,
		Description: input.Description,
		Difficulty:  input.Difficulty,
		Status:      models.CourseDraft,
		CreatedBy:   userID,
	}

	if err := cc.DB.Create(&course).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create course",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Course created",
		"course":  course,
	})
}

func (cc *CoursesController) AddUnit(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		Title string `json:"title" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var unitCount int64
	cc.DB.Model(&models.Unit{}).Where("course_id = ?", courseID).Count(&unitCount)

	unit := models.Unit{
		CourseID:  course.ID,
		UnitIndex: int(unitCount),
		Title:     input.Title,
	}
	if err := cc.DB.Create(&unit).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create unit",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Unit added",
		"unit":    unit,
	})
}

func (cc *CoursesController) AddLesson(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
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
		Title         string `json:"title" validate:"required"`
		Content       string `json:"content"`
		ResourceCount int    `json:"resource_count" validate:"min=0"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	var unit models.Unit
	if err := cc.DB.Where("course_id = ? AND unit_index = ?", courseID, unitIndex).First(&unit).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unit not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var lessonCount int64
	cc.DB.Model(&models.Lesson{}).Where("unit_id = ?", unit.ID).Count(&lessonCount)

	lesson := models.Lesson{
		UnitID:        unit.ID,
		LessonIndex:   int(lessonCount),
		Title:         input.Title,
		Content:       input.Content,
		ResourceCount: input.ResourceCount,
	}
	if err := cc.DB.Create(&lesson).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create lesson",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Lesson added",
		"lesson":  lesson,
	})
}

type questionInput struct {
	Text          string   `json:"text" validate:"required"`
	Options       []string `json:"options" validate:"required,len=4,dive,required"`
	CorrectAnswer int      `json:"correct_answer" validate:"min=0,max=3"`
	Marks         int      `json:"marks" validate:"min=1"`
}

// AddAssignmentSet creates one graded variant for a unit. Degenerate sets
// are rejected here rather than handled at scoring time: at least one
// question, exactly four options each, a correct index in range.
func (cc *CoursesController) AddAssignmentSet(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
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
		SetNumber   int             `json:"set_number" validate:"required,min=1,max=3"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Difficulty  string          `json:"difficulty"`
		Questions   []questionInput `json:"questions" validate:"required,min=1,dive"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	var unit models.Unit
	if err := cc.DB.Where("course_id = ? AND unit_index = ?", courseID, unitIndex).First(&unit).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unit not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var setCount int64
	cc.DB.Model(&models.AssignmentSet{}).Where("unit_id = ?", unit.ID).Count(&setCount)
	if setCount >= 3 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unit already has the maximum of 3 assignment sets",
		})
	}

	var existing models.AssignmentSet
	if err := cc.DB.Where("unit_id = ? AND set_number = ?", unit.ID, input.SetNumber).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Set number already exists for this unit",
		})
	}

	set := models.AssignmentSet{
		UnitID:      unit.ID,
		SetNumber:   input.SetNumber,
		Title:       input.Title,
		Description: input.Description,
		Difficulty:  input.Difficulty,
	}
	for i, q := range input.Questions {
		optionsJSON, err := json.Marshal(q.Options)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not encode options",
			})
		}
		set.Questions = append(set.Questions, models.Question{
			SequenceOrder: i,
			Text:          q.Text,
			Options:       string(optionsJSON),
			CorrectAnswer: q.CorrectAnswer,
			Marks:         q.Marks,
		})
	}

	if err := cc.DB.Create(&set).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create assignment set",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Assignment set added",
		"set":     set,
	})
}

func (cc *CoursesController) SetCertificateTemplate(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		ImageURL   string `json:"image_url" validate:"required,url"`
		LayoutJSON string `json:"layout"`
		FontFamily string `json:"font_family"`
		FontSize   int    `json:"font_size" validate:"min=0"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var template models.CertificateTemplate
	err = cc.DB.Where("course_id = ?", courseID).First(&template).Error
	if err != nil && !isNotFound(err) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	template.CourseID = course.ID
	template.ImageURL = input.ImageURL
	template.LayoutJSON = input.LayoutJSON
	if input.FontFamily != "" {
		template.FontFamily = input.FontFamily
	}
	if input.FontSize > 0 {
		template.FontSize = input.FontSize
	}

	if err := cc.DB.Save(&template).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save template",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Certificate template saved",
		"template": template,
	})
}

// SubmitForReview moves a draft (or rejected) course to the checker queue.
func (cc *CoursesController) SubmitForReview(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	course, err := loadCourse(cc.DB, courseID)
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

	if course.Status != models.CourseDraft && course.Status != models.CourseRejected {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Course is not in a submittable state",
		})
	}
	if len(course.Units) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Course needs at least one unit before review",
		})
	}

	err = cc.DB.Model(&models.Course{}).
		Where("id = ?", course.ID).
		Updates(map[string]interface{}{
			"status":      models.CoursePendingReview,
			"review_note": "",
		}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update course",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Course submitted for review",
	})
}

// ReviewCourse lets a checker approve or reject a pending course.
func (cc *CoursesController) ReviewCourse(c *fiber.Ctx) error {
	checkerID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		Action string `json:"action" validate:"required,oneof=approve reject"`
		Note   string `json:"note"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	var course models.Course
	if err := cc.DB.First(&course, courseID).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	if course.Status != models.CoursePendingReview {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Course is not pending review",
		})
	}

	status := models.CoursePublished
	if input.Action == "reject" {
		status = models.CourseRejected
	}

	err = cc.DB.Model(&models.Course{}).
		Where("id = ?", course.ID).
		Updates(map[string]interface{}{
			"status":      status,
			"review_note": input.Note,
			"reviewed_by": checkerID,
		}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update course",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Course " + status,
		"status":  status,
	})
}

func (cc *CoursesController) GetCourses(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	var courses []models.Course
	cc.DB.Where("status = ?", models.CoursePublished).Find(&courses)

	var result []fiber.Map
	for _, course := range courses {
		entry := fiber.Map{
			"id":          course.ID,
			"title":       course.Title,
			"description": course.Description,
			"difficulty":  course.Difficulty,
		}

		var enrollment models.Enrollment
		if err := cc.DB.Where("user_id = ? AND course_id = ?", userID, course.ID).First(&enrollment).Error; err == nil {
			entry["enrolled"] = true
			entry["progress"] = enrollment.Progress
			entry["status"] = enrollment.Status
		} else {
			entry["enrolled"] = false
		}

		result = append(result, entry)
	}

	return c.JSON(result)
}

func (cc *CoursesController) GetCourseDetails(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	course, err := loadCourse(cc.DB, courseID)
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

	var caller models.User
	cc.DB.First(&caller, userID)
	isAdmin := caller.Role == models.RoleAdmin || caller.Role == models.RoleChecker

	units := make([]fiber.Map, 0, len(course.Units))
	for _, unit := range course.Units {
		lessons := make([]fiber.Map, 0, len(unit.Lessons))
		for _, lesson := range unit.Lessons {
			lessons = append(lessons, fiber.Map{
				"lesson_index":   lesson.LessonIndex,
				"title":          lesson.Title,
				"content":        lesson.Content,
				"resource_count": lesson.ResourceCount,
			})
		}

		sets := make([]fiber.Map, 0, len(unit.AssignmentSets))
		for _, set := range unit.AssignmentSets {
			questions := make([]fiber.Map, 0, len(set.Questions))
			for _, q := range set.Questions {
				var options []string
				json.Unmarshal([]byte(q.Options), &options)
				qm := fiber.Map{
					"order":   q.SequenceOrder,
					"text":    q.Text,
					"options": options,
					"marks":   q.Marks,
				}
				// Correct answers never leave the server for learners.
				if isAdmin {
					qm["correct_answer"] = q.CorrectAnswer
				}
				questions = append(questions, qm)
			}
			sets = append(sets, fiber.Map{
				"set_number": set.SetNumber,
				"title":      set.Title,
				"difficulty": set.Difficulty,
				"questions":  questions,
			})
		}

		units = append(units, fiber.Map{
			"unit_index":      unit.UnitIndex,
			"title":           unit.Title,
			"lessons":         lessons,
			"assignment_sets": sets,
		})
	}

	return c.JSON(fiber.Map{
		"course": fiber.Map{
			"id":          course.ID,
			"title":       course.Title,
			"description": course.Description,
			"difficulty":  course.Difficulty,
			"status":      course.Status,
			"units":       units,
		},
	})
}

// Enroll creates the enrollment plus its unit progress skeleton in one
// transaction, so a half-created enrollment can never be observed.
func (cc *CoursesController) Enroll(c *fiber.Ctx) error {
	userID, err := utils.ExtractUserIDFromToken(c, cc.Cfg)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	course, err := loadCourse(cc.DB, courseID)
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
	if course.Status != models.CoursePublished {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Course not found",
		})
	}

	var existing models.Enrollment
	if err := cc.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Already enrolled in this course",
		})
	}

	enrollment, err := enrollUser(cc.DB, userID, course)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not enroll in course",
		})
	}

	return c.JSON(fiber.Map{
		"message":    "Enrolled in course",
		"enrollment": enrollment,
	})
}

// AssignCourse bulk-enrolls users into a course (admin). Users already
// enrolled are skipped, everything else happens in one transaction.
func (cc *CoursesController) AssignCourse(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var input struct {
		UserIDs []uint `json:"user_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if errs := utils.ValidateStruct(input); errs != nil {
		return utils.ValidationError(c, errs)
	}

	course, err := loadCourse(cc.DB, courseID)
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

	assigned := make([]uint, 0, len(input.UserIDs))
	skipped := make([]uint, 0)

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		for _, uid := range input.UserIDs {
			var user models.User
			if err := tx.First(&user, uid).Error; err != nil {
				skipped = append(skipped, uid)
				continue
			}

			var existing models.Enrollment
			if err := tx.Where("user_id = ? AND course_id = ?", uid, courseID).First(&existing).Error; err == nil {
				skipped = append(skipped, uid)
				continue
			}

			if _, err := enrollUser(tx, uid, course); err != nil {
				return err
			}
			assigned = append(assigned, uid)
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not assign course",
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Course assigned",
		"assigned": assigned,
		"skipped":  skipped,
	})
}

func enrollUser(db *gorm.DB, userID uint, course *models.Course) (*models.Enrollment, error) {
	var enrollment *models.Enrollment
	err := db.Transaction(func(tx *gorm.DB) error {
		e := models.Enrollment{
			UserID:   userID,
			CourseID: course.ID,
			Status:   models.EnrollmentActive,
		}
		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		for _, unit := range course.Units {
			up := models.UnitProgress{
				EnrollmentID: e.ID,
				UnitIndex:    unit.UnitIndex,
			}
			if err := tx.Create(&up).Error; err != nil {
				return err
			}
		}
		enrollment = &e
		return nil
	})
	return enrollment, err
}

// GetCourseAnalytics is the admin roll-up of every learner's progress,
// scores, attempts and integrity state for a course.
func (cc *CoursesController) GetCourseAnalytics(c *fiber.Ctx) error {
	courseID, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid course ID",
		})
	}

	var enrollments []models.Enrollment
	if err := cc.DB.Where("course_id = ?", courseID).Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not query database",
		})
	}

	var learners []fiber.Map
	for _, enrollment := range enrollments {
		var user models.User
		if err := cc.DB.First(&user, enrollment.UserID).Error; err != nil {
			continue
		}

		var units []models.UnitProgress
		cc.DB.Preload("Assignment").
			Where("enrollment_id = ?", enrollment.ID).
			Order("unit_index").
			Find(&units)

		unitStats := make([]fiber.Map, 0, len(units))
		for _, up := range units {
			stat := fiber.Map{
				"unit_index": up.UnitIndex,
				"completed":  up.Completed,
			}
			if up.Assignment != nil {
				stat["score"] = up.Assignment.Score
				stat["max_score"] = up.Assignment.MaxScore
				stat["attempt_count"] = up.Assignment.AttemptCount
				stat["violation_count"] = up.Assignment.ViolationCount
				stat["blocked"] = up.Assignment.Blocked
			}
			unitStats = append(unitStats, stat)
		}

		learners = append(learners, fiber.Map{
			"user_id":            user.ID,
			"name":               user.Name,
			"team":               user.Team,
			"progress":           enrollment.Progress,
			"status":             enrollment.Status,
			"certificate_issued": enrollment.CertificateIssued,
			"units":              unitStats,
		})
	}

	return c.JSON(fiber.Map{
		"analytics": learners,
	})
}
