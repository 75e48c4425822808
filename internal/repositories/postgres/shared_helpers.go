package postgres

import (
	"context"
	"time"

	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"gorm.io/gorm"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// CountAttemptsByUser counts attempts by a user for a quiz, any status.
func (h *SharedHelpers) CountAttemptsByUser(ctx context.Context, quizID uint, userID string) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("quiz_id = ? AND user_id = ?", quizID, userID).
		Count(&count).Error
	return count, err
}

// CountAttemptsByStatus counts attempts by status for a quiz.
func (h *SharedHelpers) CountAttemptsByStatus(ctx context.Context, quizID uint, status models.AttemptStatus) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("quiz_id = ? AND status = ?", quizID, status).
		Count(&count).Error
	return count, err
}

// GetQuizBasicInfo loads only the fields eligibility checks need.
func (h *SharedHelpers) GetQuizBasicInfo(ctx context.Context, quizID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := h.db.WithContext(ctx).
		Select("id, status, max_attempts, time_limit, available_from, available_until, passing_score").
		First(&quiz, quizID).Error
	return &quiz, err
}

// ApplyQuizFilters applies common filters to quiz queries
func (h *SharedHelpers) ApplyQuizFilters(query *gorm.DB, filters repositories.QuizFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.CourseID != nil {
		query = query.Where("course_id = ?", *filters.CourseID)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.Search != "" {
		query = query.Where("title ILIKE ?", "%"+filters.Search+"%")
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyAttemptFilters applies common filters to attempt queries
func (h *SharedHelpers) ApplyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.QuizID != nil {
		query = query.Where("quiz_id = ?", *filters.QuizID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with a column
// whitelist so sort params cannot inject SQL.
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	allowedSortColumns := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"id":         true,
		"title":      true,
		"status":     true,
		"score":      true,
		"started_at": true,
	}

	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}

// ValidateAttemptEligibility checks whether a user can start a new
// attempt on a quiz. Any failed check fails closed.
func (h *SharedHelpers) ValidateAttemptEligibility(ctx context.Context, quizID uint, userID string) (*repositories.AttemptValidation, error) {
	validation := &repositories.AttemptValidation{CanStart: true}

	quiz, err := h.GetQuizBasicInfo(ctx, quizID)
	if err != nil {
		return nil, err
	}

	attemptCount, err := h.CountAttemptsByUser(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	validation.AttemptsUsed = int(attemptCount)
	validation.AttemptsRemaining = quiz.MaxAttempts - int(attemptCount)
	if validation.AttemptsRemaining < 0 {
		validation.AttemptsRemaining = 0
	}

	if quiz.Status != models.QuizActive {
		validation.CanStart = false
		validation.Reason = "quiz is not active"
		return validation, nil
	}

	if !quiz.IsOpenAt(time.Now()) {
		validation.CanStart = false
		validation.Reason = "quiz is outside its availability window"
		return validation, nil
	}

	if attemptCount >= int64(quiz.MaxAttempts) {
		validation.CanStart = false
		validation.Reason = "maximum attempts reached"
		return validation, nil
	}

	var activeCount int64
	err = h.db.WithContext(ctx).
		Model(&models.QuizAttempt{}).
		Where("user_id = ? AND quiz_id = ? AND status = ?", userID, quizID, models.AttemptInProgress).
		Count(&activeCount).Error
	if err != nil {
		return nil, err
	}

	if activeCount > 0 {
		validation.CanStart = false
		validation.Reason = "an attempt is already in progress"
		return validation, nil
	}

	return validation, nil
}
