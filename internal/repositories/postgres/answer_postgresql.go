package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coursehub/quiz-service/internal/cache"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AnswerPostgreSQL implements the AnswerRepository interface
type AnswerPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (ar *AnswerPostgreSQL) Create(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Create(answer).Error; err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("attempt:%d:answers", answer.AttemptID),
		fmt.Sprintf("attempt:%d:question:%d", answer.AttemptID, answer.QuestionID),
	)

	return nil
}

func (ar *AnswerPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	db := ar.getDB(tx)
	cacheKey := fmt.Sprintf("answer:id:%d", id)
	var answer models.Answer

	err := ar.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &answer, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAnswer models.Answer
		if err := db.WithContext(ctx).First(&dbAnswer, id).Error; err != nil {
			return nil, err
		}
		return &dbAnswer, nil
	})

	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (ar *AnswerPostgreSQL) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	db := ar.getDB(tx)
	var answer models.Answer
	if err := db.WithContext(ctx).
		Preload("Attempt").
		Preload("Question").
		First(&answer, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get answer with details: %w", err)
	}
	return &answer, nil
}

func (ar *AnswerPostgreSQL) Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	db := ar.getDB(tx)
	if err := db.WithContext(ctx).Save(answer).Error; err != nil {
		return fmt.Errorf("failed to update answer: %w", err)
	}

	ar.cacheManager.Fast.Delete(ctx,
		fmt.Sprintf("answer:id:%d", answer.ID),
		fmt.Sprintf("attempt:%d:answers", answer.AttemptID),
		fmt.Sprintf("attempt:%d:question:%d", answer.AttemptID, answer.QuestionID),
	)

	return nil
}

func (ar *AnswerPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	db := ar.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(answers, 100).Error; err != nil {
		return fmt.Errorf("failed to create answers batch: %w", err)
	}

	attemptIDs := make(map[uint]bool)
	for _, answer := range answers {
		attemptIDs[answer.AttemptID] = true
	}
	for attemptID := range attemptIDs {
		ar.cacheManager.Fast.InvalidatePattern(ctx, fmt.Sprintf("attempt:%d:*", attemptID))
	}

	return nil
}

func (ar *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	db := ar.getDB(tx)
	cacheKey := fmt.Sprintf("attempt:%d:answers", attemptID)
	var answers []*models.Answer

	err := ar.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &answers, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbAnswers []*models.Answer
		if err := db.WithContext(ctx).
			Where("attempt_id = ?", attemptID).
			Order("question_id ASC").
			Find(&dbAnswers).Error; err != nil {
			return nil, fmt.Errorf("failed to get answers by attempt: %w", err)
		}
		return dbAnswers, nil
	})

	return answers, err
}

func (ar *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.Answer, error) {
	db := ar.getDB(tx)
	var answer models.Answer
	if err := db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &answer, nil
}

func (ar *AnswerPostgreSQL) UpdateGrade(ctx context.Context, tx *gorm.DB, id uint, earnedPoints float64, isCorrect *bool, feedback *string, graderID string) error {
	db := ar.getDB(tx)
	now := time.Now()
	updates := map[string]interface{}{
		"earned_points": earnedPoints,
		"graded_by":     graderID,
		"graded_at":     &now,
	}

	if isCorrect != nil {
		updates["is_correct"] = *isCorrect
	}
	if feedback != nil {
		updates["feedback"] = *feedback
	}

	if err := db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update grade: %w", err)
	}

	ar.cacheManager.Fast.Delete(ctx, fmt.Sprintf("answer:id:%d", id))

	return nil
}

func (ar *AnswerPostgreSQL) GetPendingGrading(ctx context.Context, tx *gorm.DB, quizID uint, filters repositories.AnswerFilters) ([]*models.Answer, error) {
	db := ar.getDB(tx)
	query := db.WithContext(ctx).
		Joins("JOIN quiz_attempts qa ON qa.id = answers.attempt_id").
		Where("qa.quiz_id = ? AND qa.status = ? AND answers.graded_at IS NULL", quizID, models.AttemptCompleted)
	query = ar.applyAnswerFilters(query, filters)

	var answers []*models.Answer
	if err := query.
		Preload("Attempt").
		Preload("Question").
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to get pending grading: %w", err)
	}

	return answers, nil
}

func (ar *AnswerPostgreSQL) CountUngraded(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error) {
	db := ar.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Answer{}).
		Where("attempt_id = ? AND graded_at IS NULL", attemptID).
		Count(&count).Error
	return count, err
}

func (ar *AnswerPostgreSQL) GetGradingStats(ctx context.Context, tx *gorm.DB, quizID uint) (*repositories.GradingStats, error) {
	db := ar.getDB(tx)
	stats := &repositories.GradingStats{}

	var totalAnswers int64
	if err := db.WithContext(ctx).
		Table("answers").
		Joins("JOIN quiz_attempts qa ON qa.id = answers.attempt_id").
		Where("qa.quiz_id = ?", quizID).
		Count(&totalAnswers).Error; err != nil {
		return nil, fmt.Errorf("failed to count total answers: %w", err)
	}
	stats.TotalAnswers = int(totalAnswers)

	var gradedAnswers int64
	if err := db.WithContext(ctx).
		Table("answers").
		Joins("JOIN quiz_attempts qa ON qa.id = answers.attempt_id").
		Where("qa.quiz_id = ? AND answers.graded_at IS NOT NULL", quizID).
		Count(&gradedAnswers).Error; err != nil {
		return nil, fmt.Errorf("failed to count graded answers: %w", err)
	}
	stats.GradedAnswers = int(gradedAnswers)
	stats.PendingAnswers = int(totalAnswers - gradedAnswers)

	return stats, nil
}

// ===== HELPER METHODS =====

// getDB returns the transaction DB if provided, otherwise the default
func (ar *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}

func (ar *AnswerPostgreSQL) applyAnswerFilters(query *gorm.DB, filters repositories.AnswerFilters) *gorm.DB {
	if filters.IsGraded != nil {
		if *filters.IsGraded {
			query = query.Where("answers.graded_at IS NOT NULL")
		} else {
			query = query.Where("answers.graded_at IS NULL")
		}
	}
	if filters.GradedBy != nil {
		query = query.Where("answers.graded_by = ?", *filters.GradedBy)
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	return query
}
