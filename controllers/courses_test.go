package controllers_test

import (
	"fmt"
	"testing"

	"github.com/ashishlukka1/skill-caravan-sub000/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func questionBody(text string, correct int) map[string]interface{} {
	return map[string]interface{}{
		"text":           text,
		"options":        []string{"a", "b", "c", "d"},
		"correct_answer": correct,
		"marks":          1,
	}
}

func TestCourseAuthoringAndReviewFlow(t *testing.T) {
	_, adminToken := createUser(t, "author", "admin")
	_, checkerToken := createUser(t, "reviewer", "checker")
	_, learnerToken := createUser(t, "keenlearner", "employee")

	resp, result := doRequest(t, "POST", "/api/admin/courses", adminToken, map[string]interface{}{
		"title":      "Security Basics",
		"difficulty": "beginner",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	course := result["course"].(map[string]interface{})
	assert.Equal(t, "draft", course["Status"])
	courseID := uint(course["ID"].(float64))

	// Draft courses are invisible to learners.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/courses/%d/enroll", courseID), learnerToken, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// A content-free course cannot enter review.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/submit-review", courseID), adminToken, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, result = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/units", courseID), adminToken, map[string]interface{}{
		"title": "Passwords",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	unit := result["unit"].(map[string]interface{})
	assert.Equal(t, float64(0), unit["UnitIndex"])

	resp, result = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/units/0/lessons", courseID), adminToken, map[string]interface{}{
		"title":          "Choosing a passphrase",
		"content":        "Length beats complexity.",
		"resource_count": 2,
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	lesson := result["lesson"].(map[string]interface{})
	assert.Equal(t, float64(0), lesson["LessonIndex"])

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/units/0/assignment-sets", courseID), adminToken, map[string]interface{}{
		"set_number": 1,
		"title":      "Set A",
		"questions":  []map[string]interface{}{questionBody("Longest wins?", 0)},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/certificate-template", courseID), adminToken, map[string]interface{}{
		"image_url": "https://storage.example.com/templates/security.png",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/submit-review", courseID), adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Still hidden from learners while in review.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/courses/%d/enroll", courseID), learnerToken, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Checkers only, and only while pending.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/checker/courses/%d/review", courseID), learnerToken, map[string]interface{}{
		"action": "approve",
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, result = doRequest(t, "POST", fmt.Sprintf("/api/checker/courses/%d/review", courseID), checkerToken, map[string]interface{}{
		"action": "approve",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", result["status"])

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/checker/courses/%d/review", courseID), checkerToken, map[string]interface{}{
		"action": "approve",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Published: learners can enroll, once.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/courses/%d/enroll", courseID), learnerToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/courses/%d/enroll", courseID), learnerToken, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestReviewRejectionAndResubmit(t *testing.T) {
	_, adminToken := createUser(t, "rejectedauthor", "admin")
	checker, checkerToken := createUser(t, "strictreviewer", "checker")

	resp, result := doRequest(t, "POST", "/api/admin/courses", adminToken, map[string]interface{}{
		"title": "Half-baked Course",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	courseID := uint(result["course"].(map[string]interface{})["ID"].(float64))

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/units", courseID), adminToken, map[string]interface{}{
		"title": "Only Unit",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/submit-review", courseID), adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, result = doRequest(t, "POST", fmt.Sprintf("/api/checker/courses/%d/review", courseID), checkerToken, map[string]interface{}{
		"action": "reject",
		"note":   "Needs an assessment.",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", result["status"])

	var stored models.Course
	db.First(&stored, courseID)
	assert.Equal(t, models.CourseRejected, stored.Status)
	assert.Equal(t, "Needs an assessment.", stored.ReviewNote)
	assert.Equal(t, checker.ID, stored.ReviewedBy)

	// Rejected courses can go back into the queue.
	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/submit-review", courseID), adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAssignmentSetValidation(t *testing.T) {
	_, adminToken := createUser(t, "setauthor", "admin")

	resp, result := doRequest(t, "POST", "/api/admin/courses", adminToken, map[string]interface{}{
		"title": "Validation Course",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	courseID := uint(result["course"].(map[string]interface{})["ID"].(float64))

	resp, _ = doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/units", courseID), adminToken, map[string]interface{}{
		"title": "Unit",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	setsPath := fmt.Sprintf("/api/admin/courses/%d/units/0/assignment-sets", courseID)

	// No questions.
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions":  []map[string]interface{}{},
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	// Wrong option count.
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions": []map[string]interface{}{{
			"text":           "Pick one",
			"options":        []string{"a", "b"},
			"correct_answer": 0,
			"marks":          1,
		}},
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	// Correct answer out of range.
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions":  []map[string]interface{}{questionBody("Pick one", 4)},
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	// Set numbers live in 1..3.
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 4,
		"questions":  []map[string]interface{}{questionBody("Pick one", 0)},
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	// A valid set, then a duplicate number.
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions":  []map[string]interface{}{questionBody("Pick one", 0)},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions":  []map[string]interface{}{questionBody("Pick another", 1)},
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// Fill up to the maximum of three, then overflow.
	for _, n := range []int{2, 3} {
		resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
			"set_number": n,
			"questions":  []map[string]interface{}{questionBody("Pick one", 0)},
		})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, _ = doRequest(t, "POST", setsPath, adminToken, map[string]interface{}{
		"set_number": 1,
		"questions":  []map[string]interface{}{questionBody("One too many", 0)},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAuthoringRequiresAdmin(t *testing.T) {
	_, token := createUser(t, "plainemployee", "employee")

	resp, _ := doRequest(t, "POST", "/api/admin/courses", token, map[string]interface{}{
		"title": "Sneaky Course",
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGetCoursesListsEnrollmentState(t *testing.T) {
	_, token := createUser(t, "browser", "employee")
	enrolled := createCourse(t, "Enrolled Course", []unitDef{{lessons: 1}})
	createCourse(t, "Other Course", []unitDef{{lessons: 1}})
	enroll(t, token, enrolled.ID)

	// The course list is a bare JSON array, so it needs its own decoder.
	entries := doListRequest(t, "/api/courses/", token)

	var found bool
	for _, entry := range entries {
		if uint(entry["id"].(float64)) == enrolled.ID {
			found = true
			assert.Equal(t, true, entry["enrolled"])
			assert.Equal(t, "active", entry["status"])
		}
	}
	assert.True(t, found)
}

func TestCourseDetailsHideAnswersFromLearners(t *testing.T) {
	_, learnerToken := createUser(t, "curiouslearner", "employee")
	_, adminToken := createUser(t, "answerkeeper", "admin")
	course := createCourse(t, "Answer Course", []unitDef{
		{lessons: 1, sets: []setDef{{number: 1, marks: []int{1}}}},
	})

	path := fmt.Sprintf("/api/courses/%d", course.ID)

	resp, result := doRequest(t, "GET", path, learnerToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	question := firstQuestion(t, result)
	_, present := question["correct_answer"]
	assert.False(t, present)

	resp, result = doRequest(t, "GET", path, adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	question = firstQuestion(t, result)
	assert.Equal(t, float64(0), question["correct_answer"])
}

func firstQuestion(t *testing.T, result map[string]interface{}) map[string]interface{} {
	t.Helper()
	course := result["course"].(map[string]interface{})
	units := course["units"].([]interface{})
	sets := units[0].(map[string]interface{})["assignment_sets"].([]interface{})
	questions := sets[0].(map[string]interface{})["questions"].([]interface{})
	return questions[0].(map[string]interface{})
}

func TestAssignCourseSkipsExistingEnrollments(t *testing.T) {
	_, adminToken := createUser(t, "bulkadmin", "admin")
	fresh, _ := createUser(t, "freshhire", "employee")
	veteran, veteranToken := createUser(t, "veteran", "employee")
	course := createCourse(t, "Mandatory Course", []unitDef{{lessons: 1}})
	enroll(t, veteranToken, course.ID)

	resp, result := doRequest(t, "POST", fmt.Sprintf("/api/admin/courses/%d/assign", course.ID), adminToken, map[string]interface{}{
		"user_ids": []uint{fresh.ID, veteran.ID, 999999},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	assigned := result["assigned"].([]interface{})
	skipped := result["skipped"].([]interface{})
	assert.Len(t, assigned, 1)
	assert.Equal(t, float64(fresh.ID), assigned[0])
	assert.Len(t, skipped, 2)

	var enrollment models.Enrollment
	err := db.Where("user_id = ? AND course_id = ?", fresh.ID, course.ID).First(&enrollment).Error
	assert.NoError(t, err)

	var ups []models.UnitProgress
	db.Where("enrollment_id = ?", enrollment.ID).Find(&ups)
	assert.Len(t, ups, 1)
}

func TestCourseAnalytics(t *testing.T) {
	_, adminToken := createUser(t, "analyticsadmin", "admin")
	learner, learnerToken := createUser(t, "measuredlearner", "employee")
	course := createCourse(t, "Measured Course", []unitDef{
		{lessons: 1, sets: []setDef{{number: 1, marks: []int{2}}}},
	})
	enroll(t, learnerToken, course.ID)

	completeLesson(t, learnerToken, course.ID, 0, 0)
	resp, _ := doRequest(t, "POST",
		fmt.Sprintf("/api/progress/%d/unit/0/assign-set", course.ID),
		learnerToken, map[string]interface{}{})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = doRequest(t, "POST",
		fmt.Sprintf("/api/courses/%d/assignment/0/submit", course.ID),
		learnerToken, map[string]interface{}{"submission": []int{0}})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, result := doRequest(t, "GET", fmt.Sprintf("/api/admin/courses/%d/analytics", course.ID), adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	learners := result["analytics"].([]interface{})
	assert.Len(t, learners, 1)
	row := learners[0].(map[string]interface{})
	assert.Equal(t, float64(learner.ID), row["user_id"])
	assert.Equal(t, float64(100), row["progress"])
	assert.Equal(t, true, row["certificate_issued"])

	units := row["units"].([]interface{})
	unit := units[0].(map[string]interface{})
	assert.Equal(t, true, unit["completed"])
	assert.Equal(t, float64(2), unit["score"])
	assert.Equal(t, float64(2), unit["max_score"])
	assert.Equal(t, float64(1), unit["attempt_count"])
}
