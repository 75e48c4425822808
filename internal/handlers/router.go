package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/coursehub/quiz-service/internal/config"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/services"
	"github.com/coursehub/quiz-service/internal/utils"
	"github.com/coursehub/quiz-service/internal/validator"
)

type HandlerManager struct {
	quizHandler    *QuizHandler
	attemptHandler *AttemptHandler
	gradingHandler *GradingHandler
	exportHandler  *ExportHandler
	userHandler    *UserHandler
	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		quizHandler:    NewQuizHandler(serviceManager.Quiz(), validator, logger),
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		gradingHandler: NewGradingHandler(serviceManager.Scoring(), validator, logger),
		exportHandler:  NewExportHandler(serviceManager.Export(), logger),
		userHandler:    NewUserHandler(userRepo, logger),
		authMiddleware: authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	instructorOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Quiz routes
		quizzes := v1.Group("/quizzes")
		{
			// Create/modify quizzes - Instructors and Admins only
			quizzes.POST("", instructorOnly, hm.quizHandler.CreateQuiz)
			quizzes.PUT("/:id", instructorOnly, hm.quizHandler.UpdateQuiz)
			quizzes.DELETE("/:id", instructorOnly, hm.quizHandler.DeleteQuiz)
			quizzes.PUT("/:id/status", instructorOnly, hm.quizHandler.UpdateQuizStatus)
			quizzes.POST("/:id/publish", instructorOnly, hm.quizHandler.PublishQuiz)
			quizzes.POST("/:id/archive", instructorOnly, hm.quizHandler.ArchiveQuiz)

			// View quizzes - All authenticated users
			quizzes.GET("", hm.quizHandler.ListQuizzes)
			quizzes.GET("/:id", hm.quizHandler.GetQuiz)
			quizzes.GET("/:id/can-take", hm.quizHandler.CanTakeQuiz)

			// Question payloads include correct answers - owner gated in service
			quizzes.GET("/:id/details", instructorOnly, hm.quizHandler.GetQuizWithQuestions)
			quizzes.GET("/:id/questions", instructorOnly, hm.quizHandler.GetQuestions)

			// Question management - Instructors and Admins only
			quizzes.POST("/:id/questions", instructorOnly, hm.quizHandler.AddQuestion)
			quizzes.POST("/:id/questions/batch", instructorOnly, hm.quizHandler.AddQuestionsBatch)
			quizzes.PUT("/:id/questions/:question_id", instructorOnly, hm.quizHandler.UpdateQuestion)
			quizzes.DELETE("/:id/questions/:question_id", instructorOnly, hm.quizHandler.RemoveQuestion)

			// Stats - Instructors and Admins only
			quizzes.GET("/:id/stats", instructorOnly, hm.quizHandler.GetQuizStats)

			// Creator-specific routes - Instructors and Admins only
			quizzes.GET("/creator/:creator_id", instructorOnly, hm.quizHandler.GetQuizzesByCreator)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.POST("/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/details", hm.attemptHandler.GetAttemptWithDetails)
			attempts.POST("/:id/resume", hm.attemptHandler.ResumeAttempt)
			attempts.POST("/:id/abandon", hm.attemptHandler.AbandonAttempt)
			attempts.GET("/:id/time-remaining", hm.attemptHandler.GetTimeRemaining)
			attempts.POST("/:id/timeout", hm.attemptHandler.HandleTimeout)

			// Quiz-specific routes
			attempts.GET("/active/:quiz_id", hm.attemptHandler.GetActiveAttempt)
			attempts.GET("/can-start/:quiz_id", hm.attemptHandler.CanStartAttempt)
			attempts.GET("/count/:quiz_id", hm.attemptHandler.GetAttemptCount)
			attempts.GET("/stats/:quiz_id", instructorOnly, hm.attemptHandler.GetAttemptStats)

			// Student-specific routes - Instructors and Admins only
			attempts.GET("/student/:student_id", instructorOnly, hm.attemptHandler.GetAttemptsByStudent)
		}

		// Grading routes - Instructors and Admins only
		grading := v1.Group("/grading")
		grading.Use(instructorOnly)
		{
			grading.POST("/answers/:answer_id", hm.gradingHandler.GradeAnswer)
			grading.POST("/attempts/:attempt_id/rescore", hm.gradingHandler.RescoreAttempt)
			grading.GET("/quizzes/:quiz_id/pending", hm.gradingHandler.GetPendingGrading)
			grading.GET("/quizzes/:quiz_id/stats", hm.gradingHandler.GetGradingStats)
		}

		// Export routes - Instructors and Admins only
		export := v1.Group("/export")
		export.Use(instructorOnly)
		{
			export.GET("/quizzes/:quiz_id/results", hm.exportHandler.ExportQuizResults)
		}

		// User routes (read-only identity lookups)
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "quiz-service",
		})
	})
}
