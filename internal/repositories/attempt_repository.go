package repositories

import (
	"context"
	"time"

	"github.com/coursehub/quiz-service/internal/models"
	"gorm.io/gorm"
)

// AttemptRepository covers attempt lifecycle persistence.
type AttemptRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.QuizAttempt, int64, error)
	GetByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID string, quizID uint) ([]*models.QuizAttempt, error)
	GetActiveAttempt(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (*models.QuizAttempt, error)
	HasActiveAttempt(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (bool, error)
	CountByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (int64, error)

	// GetOverdueAttempts returns in-progress attempts on timed quizzes
	// whose deadline has passed as of now.
	GetOverdueAttempts(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.QuizAttempt, error)

	// Status and scoring updates
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.AttemptStatus) error
	UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score, maxScore, percentage float64, passed, fullyGraded bool) error

	// Statistics
	GetQuizAttemptStats(ctx context.Context, tx *gorm.DB, quizID uint) (*AttemptStats, error)
}

// AnswerRepository covers submitted answer persistence and grading.
type AnswerRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error)
	Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error

	// Query operations
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error)
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.Answer, error)

	// Grading operations
	UpdateGrade(ctx context.Context, tx *gorm.DB, id uint, earnedPoints float64, isCorrect *bool, feedback *string, graderID string) error
	GetPendingGrading(ctx context.Context, tx *gorm.DB, quizID uint, filters AnswerFilters) ([]*models.Answer, error)
	CountUngraded(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error)
	GetGradingStats(ctx context.Context, tx *gorm.DB, quizID uint) (*GradingStats, error)
}
