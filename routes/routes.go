package routes

import (
	"github.com/ashishlukka1/skill-caravan-sub000/config"
	"github.com/ashishlukka1/skill-caravan-sub000/controllers"
	"github.com/ashishlukka1/skill-caravan-sub000/middleware"
	"github.com/ashishlukka1/skill-caravan-sub000/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg *config.Config, issuer utils.CertificateIssuer) {
	// Auth routes
	authController := controllers.NewAuthController(db, cfg)
	app.Post("/api/auth/register", authController.Register)
	app.Post("/api/auth/login", authController.Login)

	// Middleware
	authMiddleware := middleware.AuthMiddleware(cfg)
	adminMiddleware := middleware.AdminMiddleware(db, cfg)
	checkerMiddleware := middleware.CheckerMiddleware(db, cfg)

	// User routes
	userController := controllers.NewUserController(db, cfg)
	app.Get("/api/user/profile", authMiddleware, userController.GetProfile)
	app.Put("/api/user/profile", authMiddleware, userController.UpdateProfile)

	// Courses routes
	coursesController := controllers.NewCoursesController(db, cfg)
	courses := app.Group("/api/courses", authMiddleware)
	courses.Get("/", coursesController.GetCourses)
	courses.Get("/:id", coursesController.GetCourseDetails)
	courses.Post("/:id/enroll", coursesController.Enroll)

	// Assignment submission
	assignmentController := controllers.NewAssignmentController(db, cfg, issuer)
	courses.Post("/:courseId/assignment/:unitIndex/submit", assignmentController.SubmitAssignment)

	// Progress routes
	progressController := controllers.NewProgressController(db, cfg, issuer)
	progress := app.Group("/api/progress", authMiddleware)
	progress.Get("/:courseId", progressController.GetProgress)
	progress.Post("/:courseId/unit/:unitIndex/lesson/:lessonIndex", progressController.UpdateLessonProgress)
	progress.Post("/:courseId/unit/:unitIndex/assign-set", progressController.AssignSet)
	progress.Post("/:courseId/unit/:unitIndex/violation", progressController.ReportViolation)
	progress.Get("/:courseId/unit/:unitIndex/block-status", progressController.GetBlockStatus)
	progress.Post("/:courseId/unit/:unitIndex/reset-block/:userId", adminMiddleware, progressController.ResetBlock)
	progress.Post("/:courseId/certificate", progressController.IssueCertificate)

	// Admin routes for course authoring
	adminCourses := app.Group("/api/admin/courses", authMiddleware, adminMiddleware)
	adminCourses.Post("/", coursesController.CreateCourse)
	adminCourses.Post("/:id/units", coursesController.AddUnit)
	adminCourses.Post("/:id/units/:unitIndex/lessons", coursesController.AddLesson)
	adminCourses.Post("/:id/units/:unitIndex/assignment-sets", coursesController.AddAssignmentSet)
	adminCourses.Post("/:id/certificate-template", coursesController.SetCertificateTemplate)
	adminCourses.Post("/:id/submit-review", coursesController.SubmitForReview)
	adminCourses.Post("/:id/assign", coursesController.AssignCourse)
	adminCourses.Get("/:id/analytics", coursesController.GetCourseAnalytics)

	// Checker review queue
	app.Post("/api/checker/courses/:id/review", authMiddleware, checkerMiddleware, coursesController.ReviewCourse)
}
