package repositories

import (
	"context"

	"github.com/coursehub/quiz-service/internal/models"
	"gorm.io/gorm"
)

// QuizRepository covers quiz catalog persistence. All methods accept an
// optional transaction handle; nil falls back to the base connection.
type QuizRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Quiz, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Quiz, error)
	Update(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters QuizFilters) ([]*models.Quiz, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters QuizFilters) ([]*models.Quiz, int64, error)

	// Status management
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.QuizStatus) error

	// Validation and checks
	Exists(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
	HasAttempts(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

// QuestionRepository covers per-quiz question persistence.
type QuestionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)

	// Quiz-scoped queries. GetActiveByQuiz returns only questions that
	// count toward scoring, in canonical position order.
	GetByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) ([]*models.Question, error)
	GetActiveByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) ([]*models.Question, error)
	CountActiveByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) (int64, error)

	// TotalActivePoints sums points across active questions of a quiz.
	TotalActivePoints(ctx context.Context, tx *gorm.DB, quizID uint) (float64, error)
}
