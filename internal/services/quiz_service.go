package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/quiz-service/internal/events"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/validator"
	"gorm.io/datatypes"
)

type quizService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	business  *validator.BusinessValidator
	publisher events.EventPublisher
}

func NewQuizService(repo repositories.Repository, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) QuizService {
	return &quizService{
		repo:      repo,
		logger:    logger,
		validator: v,
		business:  validator.NewBusinessValidator(v),
		publisher: publisher,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *quizService) Create(ctx context.Context, req *CreateQuizRequest, creatorID string) (*QuizResponse, error) {
	s.logger.Info("Creating quiz", "title", req.Title, "creator_id", creatorID)

	if errs := s.business.ValidateQuizCreate(req); errs.HasErrors() {
		return nil, errs
	}

	quizType := req.Type
	if quizType == "" {
		quizType = models.QuizTypeQuiz
	}

	quiz := &models.Quiz{
		CourseID:         req.CourseID,
		Type:             quizType,
		Title:            req.Title,
		Description:      req.Description,
		Status:           models.QuizDraft,
		TimeLimit:        req.TimeLimit,
		PassingScore:     req.PassingScore,
		MaxAttempts:      req.MaxAttempts,
		AvailableFrom:    req.AvailableFrom,
		AvailableUntil:   req.AvailableUntil,
		ShuffleQuestions: req.ShuffleQuestions,
		CreatedBy:        creatorID,
	}

	if err := s.repo.Quiz().Create(ctx, nil, quiz); err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	s.logger.Info("Quiz created", "quiz_id", quiz.ID, "creator_id", creatorID)

	return s.buildQuizResponse(ctx, quiz, creatorID)
}

func (s *quizService) GetByID(ctx context.Context, id uint, userID string) (*QuizResponse, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	// Unpublished quizzes are invisible to non-managers
	if quiz.Status != models.QuizActive {
		canManage, err := s.canManageQuiz(ctx, quiz, userID)
		if err != nil {
			return nil, err
		}
		if !canManage {
			return nil, ErrQuizNotFound
		}
	}

	return s.buildQuizResponse(ctx, quiz, userID)
}

func (s *quizService) GetByIDWithQuestions(ctx context.Context, id uint, userID string) (*QuizResponse, error) {
	quiz, err := s.repo.Quiz().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz with questions: %w", err)
	}

	// Full question payloads include correct answers, manager only
	canManage, err := s.canManageQuiz(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "quiz", "read_questions", "not quiz owner or insufficient permissions")
	}

	return s.buildQuizResponse(ctx, quiz, userID)
}

func (s *quizService) Update(ctx context.Context, id uint, req *UpdateQuizRequest, userID string) (*QuizResponse, error) {
	quiz, err := s.getManagedQuiz(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}

	hasAttempts, err := s.repo.Quiz().HasAttempts(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check attempts: %w", err)
	}
	if hasAttempts {
		quiz.AttemptCount = 1 // enough for the frozen-field rules
	}

	if errs := s.business.ValidateQuizUpdate(req, quiz); errs.HasErrors() {
		return nil, errs
	}

	applyQuizUpdate(quiz, req)

	if err := s.repo.Quiz().Update(ctx, nil, quiz); err != nil {
		return nil, fmt.Errorf("failed to update quiz: %w", err)
	}

	s.logger.Info("Quiz updated", "quiz_id", id, "user_id", userID)

	return s.buildQuizResponse(ctx, quiz, userID)
}

// Delete soft-deletes a quiz. Quizzes with recorded attempts are
// archived instead so existing results stay resolvable.
func (s *quizService) Delete(ctx context.Context, id uint, userID string) error {
	if _, err := s.getManagedQuiz(ctx, id, userID, "delete"); err != nil {
		return err
	}

	hasAttempts, err := s.repo.Quiz().HasAttempts(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check attempts: %w", err)
	}

	if hasAttempts {
		s.logger.Info("Quiz has attempts, archiving instead of deleting", "quiz_id", id)
		if err := s.repo.Quiz().UpdateStatus(ctx, nil, id, models.QuizArchived); err != nil {
			return fmt.Errorf("failed to archive quiz: %w", err)
		}
		return nil
	}

	if err := s.repo.Quiz().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete quiz: %w", err)
	}

	s.logger.Info("Quiz deleted", "quiz_id", id, "user_id", userID)
	return nil
}

// ===== LIST OPERATIONS =====

func (s *quizService) List(ctx context.Context, filters repositories.QuizFilters, userID string) (*QuizListResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// Students browse the published catalog only
	if user.Role == models.RoleStudent {
		active := models.QuizActive
		filters.Status = &active
	}

	quizzes, total, err := s.repo.Quiz().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list quizzes: %w", err)
	}

	return s.buildQuizListResponse(ctx, quizzes, total, filters.Limit, filters.Offset, userID)
}

func (s *quizService) GetByCreator(ctx context.Context, creatorID string, filters repositories.QuizFilters) (*QuizListResponse, error) {
	quizzes, total, err := s.repo.Quiz().GetByCreator(ctx, nil, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get quizzes by creator: %w", err)
	}

	return s.buildQuizListResponse(ctx, quizzes, total, filters.Limit, filters.Offset, creatorID)
}

// ===== STATUS MANAGEMENT =====

func (s *quizService) UpdateStatus(ctx context.Context, id uint, req *UpdateStatusRequest, userID string) error {
	if err := s.validator.Validate(req); err != nil {
		return validator.ToValidationErrors(err)
	}

	quiz, err := s.getManagedQuiz(ctx, id, userID, "update_status")
	if err != nil {
		return err
	}

	questionCount, err := s.repo.Question().CountActiveByQuiz(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to count questions: %w", err)
	}

	if errs := s.business.ValidateStatusTransition(quiz.Status, req.Status, int(questionCount)); errs.HasErrors() {
		return errs
	}

	if err := s.repo.Quiz().UpdateStatus(ctx, nil, id, req.Status); err != nil {
		return fmt.Errorf("failed to update quiz status: %w", err)
	}

	s.logger.Info("Quiz status updated",
		"quiz_id", id,
		"from", quiz.Status,
		"to", req.Status,
		"user_id", userID)

	if req.Status == models.QuizActive {
		event := events.NewEvent(events.EventQuizPublished, events.QuizPublishedEvent{
			QuizID:    id,
			CourseID:  quiz.CourseID,
			CreatedBy: quiz.CreatedBy,
			Title:     quiz.Title,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish quiz published event", "quiz_id", id, "error", err)
		}
	}

	return nil
}

func (s *quizService) Publish(ctx context.Context, id uint, userID string) error {
	return s.UpdateStatus(ctx, id, &UpdateStatusRequest{Status: models.QuizActive}, userID)
}

func (s *quizService) Archive(ctx context.Context, id uint, userID string) error {
	return s.UpdateStatus(ctx, id, &UpdateStatusRequest{Status: models.QuizArchived}, userID)
}

// ===== QUESTION MANAGEMENT =====

func (s *quizService) AddQuestion(ctx context.Context, quizID uint, req *CreateQuestionRequest, userID string) (*models.Question, error) {
	if _, err := s.getManagedQuiz(ctx, quizID, userID, "add_question"); err != nil {
		return nil, err
	}

	if errs := s.business.ValidateQuestionCreate(req); errs.HasErrors() {
		return nil, errs
	}

	question := buildQuestion(quizID, req)
	if err := s.repo.Question().Create(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	s.logger.Info("Question added", "quiz_id", quizID, "question_id", question.ID)

	return question, nil
}

func (s *quizService) AddQuestionsBatch(ctx context.Context, quizID uint, reqs []*CreateQuestionRequest, userID string) ([]*models.Question, error) {
	if _, err := s.getManagedQuiz(ctx, quizID, userID, "add_questions"); err != nil {
		return nil, err
	}

	questions := make([]*models.Question, 0, len(reqs))
	for i, req := range reqs {
		if errs := s.business.ValidateQuestionCreate(req); errs.HasErrors() {
			return nil, fmt.Errorf("question %d invalid: %w", i, errs)
		}
		questions = append(questions, buildQuestion(quizID, req))
	}

	err := s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
		return r.Question().CreateBatch(ctx, nil, questions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create questions: %w", err)
	}

	s.logger.Info("Questions added in batch", "quiz_id", quizID, "count", len(questions))

	return questions, nil
}

func (s *quizService) UpdateQuestion(ctx context.Context, quizID, questionID uint, req *UpdateQuestionRequest, userID string) (*models.Question, error) {
	if _, err := s.getManagedQuiz(ctx, quizID, userID, "update_question"); err != nil {
		return nil, err
	}

	question, err := s.repo.Question().GetByID(ctx, nil, questionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if question.QuizID != quizID {
		return nil, ErrQuestionNotFound
	}

	if err := s.validator.Validate(req); err != nil {
		return nil, validator.ToValidationErrors(err)
	}

	if req.Content != nil {
		if errs := s.business.ValidateQuestionContent(question.Kind, req.Content); errs.HasErrors() {
			return nil, errs
		}
		question.Content = datatypes.JSON(req.Content)
	}
	if req.Text != nil {
		question.Text = *req.Text
	}
	if req.Points != nil {
		question.Points = *req.Points
	}
	if req.Position != nil {
		question.Position = *req.Position
	}
	if req.IsActive != nil {
		question.IsActive = *req.IsActive
	}
	if req.Explanation != nil {
		question.Explanation = req.Explanation
	}

	if err := s.repo.Question().Update(ctx, nil, question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}

	s.logger.Info("Question updated", "quiz_id", quizID, "question_id", questionID)

	return question, nil
}

// RemoveQuestion deletes a question, or deactivates it when the quiz
// already has attempts so past scores keep their denominator context.
func (s *quizService) RemoveQuestion(ctx context.Context, quizID, questionID uint, userID string) error {
	if _, err := s.getManagedQuiz(ctx, quizID, userID, "remove_question"); err != nil {
		return err
	}

	question, err := s.repo.Question().GetByID(ctx, nil, questionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("failed to get question: %w", err)
	}
	if question.QuizID != quizID {
		return ErrQuestionNotFound
	}

	hasAttempts, err := s.repo.Quiz().HasAttempts(ctx, nil, quizID)
	if err != nil {
		return fmt.Errorf("failed to check attempts: %w", err)
	}

	if hasAttempts {
		question.IsActive = false
		if err := s.repo.Question().Update(ctx, nil, question); err != nil {
			return fmt.Errorf("failed to deactivate question: %w", err)
		}
		s.logger.Info("Question deactivated", "quiz_id", quizID, "question_id", questionID)
		return nil
	}

	if err := s.repo.Question().Delete(ctx, nil, questionID); err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}

	s.logger.Info("Question removed", "quiz_id", quizID, "question_id", questionID)
	return nil
}

func (s *quizService) GetQuestions(ctx context.Context, quizID uint, userID string) ([]*models.Question, error) {
	if _, err := s.getManagedQuiz(ctx, quizID, userID, "read_questions"); err != nil {
		return nil, err
	}

	questions, err := s.repo.Question().GetByQuiz(ctx, nil, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}

	return questions, nil
}

// ===== STATISTICS =====

func (s *quizService) GetStats(ctx context.Context, id uint, userID string) (*repositories.AttemptStats, error) {
	if _, err := s.getManagedQuiz(ctx, id, userID, "view_stats"); err != nil {
		return nil, err
	}

	stats, err := s.repo.Attempt().GetQuizAttemptStats(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz stats: %w", err)
	}

	return stats, nil
}

// ===== PERMISSION CHECKS =====

func (s *quizService) CanEdit(ctx context.Context, quizID uint, userID string) (bool, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrQuizNotFound
		}
		return false, fmt.Errorf("failed to get quiz: %w", err)
	}
	return s.canManageQuiz(ctx, quiz, userID)
}

func (s *quizService) CanTake(ctx context.Context, quizID uint, userID string) (bool, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrQuizNotFound
		}
		return false, fmt.Errorf("failed to get quiz: %w", err)
	}

	if quiz.Status != models.QuizActive || !quiz.IsOpenAt(time.Now()) {
		return false, nil
	}

	count, err := s.repo.Attempt().CountByUserAndQuiz(ctx, nil, userID, quizID)
	if err != nil {
		return false, fmt.Errorf("failed to count attempts: %w", err)
	}

	return int(count) < quiz.MaxAttempts, nil
}

// ===== HELPERS =====

func (s *quizService) canManageQuiz(ctx context.Context, quiz *models.Quiz, userID string) (bool, error) {
	if quiz.CreatedBy == userID {
		return true, nil
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	return user.Role == models.RoleAdmin, nil
}

// getManagedQuiz loads a quiz and enforces manage permission in one go
func (s *quizService) getManagedQuiz(ctx context.Context, quizID uint, userID, action string) (*models.Quiz, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	canManage, err := s.canManageQuiz(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, quizID, "quiz", action, "not quiz owner or insufficient permissions")
	}

	return quiz, nil
}

func (s *quizService) buildQuizResponse(ctx context.Context, quiz *models.Quiz, userID string) (*QuizResponse, error) {
	questionCount, err := s.repo.Question().CountActiveByQuiz(ctx, nil, quiz.ID)
	if err != nil {
		s.logger.Warn("Failed to count quiz questions", "quiz_id", quiz.ID, "error", err)
	}
	totalPoints, err := s.repo.Question().TotalActivePoints(ctx, nil, quiz.ID)
	if err != nil {
		s.logger.Warn("Failed to sum quiz points", "quiz_id", quiz.ID, "error", err)
	}

	quiz.QuestionCount = int(questionCount)
	quiz.TotalPoints = totalPoints

	canManage, err := s.canManageQuiz(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}

	canTake := false
	if !canManage {
		canTake, err = s.CanTake(ctx, quiz.ID, userID)
		if err != nil {
			return nil, err
		}
	}

	return &QuizResponse{
		Quiz:      quiz,
		CanEdit:   canManage,
		CanDelete: canManage,
		CanTake:   canTake,
	}, nil
}

func (s *quizService) buildQuizListResponse(ctx context.Context, quizzes []*models.Quiz, total int64, limit, offset int, userID string) (*QuizListResponse, error) {
	responses := make([]*QuizResponse, 0, len(quizzes))
	for _, quiz := range quizzes {
		response, err := s.buildQuizResponse(ctx, quiz, userID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}

	page := 0
	if limit > 0 {
		page = offset / limit
	}

	return &QuizListResponse{
		Quizzes: responses,
		Total:   total,
		Page:    page,
		Size:    limit,
	}, nil
}

func applyQuizUpdate(quiz *models.Quiz, req *UpdateQuizRequest) {
	if req.Type != nil {
		quiz.Type = *req.Type
	}
	if req.Title != nil {
		quiz.Title = *req.Title
	}
	if req.Description != nil {
		quiz.Description = req.Description
	}
	if req.TimeLimit != nil {
		quiz.TimeLimit = req.TimeLimit
	}
	if req.PassingScore != nil {
		quiz.PassingScore = *req.PassingScore
	}
	if req.MaxAttempts != nil {
		quiz.MaxAttempts = *req.MaxAttempts
	}
	if req.AvailableFrom != nil {
		quiz.AvailableFrom = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		quiz.AvailableUntil = req.AvailableUntil
	}
	if req.ShuffleQuestions != nil {
		quiz.ShuffleQuestions = *req.ShuffleQuestions
	}
}

func buildQuestion(quizID uint, req *CreateQuestionRequest) *models.Question {
	return &models.Question{
		QuizID:      quizID,
		Kind:        req.Kind,
		Text:        req.Text,
		Points:      req.Points,
		Position:    req.Position,
		IsActive:    true,
		Content:     datatypes.JSON(req.Content),
		Explanation: req.Explanation,
	}
}
