package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/coursehub/quiz-service/internal/events"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"gorm.io/datatypes"
)

// ===== TIME MANAGEMENT =====

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID uint, studentID string) (int, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, ErrAttemptNotFound
		}
		return 0, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.UserID != studentID {
		return 0, NewPermissionError(studentID, attemptID, "attempt", "get_time_remaining", "not owned by student")
	}

	if attempt.Status != models.AttemptInProgress {
		return 0, ErrAttemptNotActive
	}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, attempt.QuizID)
	if err != nil {
		return 0, fmt.Errorf("failed to get quiz: %w", err)
	}

	deadline, limited := attempt.Deadline(quiz.TimeLimit)
	if !limited {
		return 0, nil // No time limit
	}

	remaining := int(time.Until(deadline).Seconds())
	if remaining < 0 {
		return 0, nil // Time expired
	}

	return remaining, nil
}

func (s *attemptService) HandleTimeout(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status != models.AttemptInProgress {
		return nil // Already handled
	}

	return s.abandonAttempt(ctx, attempt, models.AbandonTimeout)
}

// SweepOverdueAttempts abandons every in-progress attempt whose time
// limit has elapsed. Run periodically by the cron sweeper.
func (s *attemptService) SweepOverdueAttempts(ctx context.Context) (int, error) {
	overdue, err := s.repo.Attempt().GetOverdueAttempts(ctx, nil, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to get overdue attempts: %w", err)
	}

	swept := 0
	for _, attempt := range overdue {
		if err := s.abandonAttempt(ctx, attempt, models.AbandonSwept); err != nil {
			s.logger.Error("Failed to sweep overdue attempt",
				"attempt_id", attempt.ID, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("Swept overdue attempts", "count", swept)
	}

	return swept, nil
}

// ===== VALIDATION =====

// CanStart evaluates every eligibility gate and reports the first one
// that fails. Repository errors propagate so the caller fails closed.
func (s *attemptService) CanStart(ctx context.Context, quizID uint, studentID string) (*repositories.AttemptValidation, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	count, err := s.repo.Attempt().CountByUserAndQuiz(ctx, nil, studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	validation := &repositories.AttemptValidation{
		AttemptsUsed:      int(count),
		AttemptsRemaining: quiz.MaxAttempts - int(count),
	}
	if validation.AttemptsRemaining < 0 {
		validation.AttemptsRemaining = 0
	}

	if quiz.Status != models.QuizActive {
		validation.Reason = "quiz is not published"
		return validation, nil
	}

	if !quiz.IsOpenAt(time.Now()) {
		validation.Reason = "quiz is outside its availability window"
		return validation, nil
	}

	if int(count) >= quiz.MaxAttempts {
		validation.Reason = "maximum attempts reached"
		return validation, nil
	}

	hasActive, err := s.repo.Attempt().HasActiveAttempt(ctx, nil, studentID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active attempt: %w", err)
	}
	if hasActive {
		validation.Reason = "an attempt is already in progress"
		return validation, nil
	}

	validation.CanStart = true
	return validation, nil
}

func (s *attemptService) GetAttemptCount(ctx context.Context, quizID uint, studentID string) (int, error) {
	count, err := s.repo.Attempt().CountByUserAndQuiz(ctx, nil, studentID, quizID)
	if err != nil {
		return 0, fmt.Errorf("failed to get attempt count: %w", err)
	}
	return int(count), nil
}

// ===== STATISTICS =====

func (s *attemptService) GetStats(ctx context.Context, quizID uint, userID string) (*repositories.AttemptStats, error) {
	canManage, err := s.canManageQuiz(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, quizID, "quiz", "view_stats", "not quiz owner or insufficient permissions")
	}

	stats, err := s.repo.Attempt().GetQuizAttemptStats(ctx, nil, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt stats: %w", err)
	}

	return stats, nil
}

// ===== START HELPERS =====

func (s *attemptService) lockStart(quizID uint, userID string) func() {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", quizID, userID)
	mu := &s.startLocks[h.Sum32()%uint32(len(s.startLocks))]
	mu.Lock()
	return mu.Unlock
}

func (s *attemptService) startDenied(validation *repositories.AttemptValidation) error {
	switch validation.Reason {
	case "maximum attempts reached":
		return ErrAttemptLimitReached
	case "quiz is not published", "quiz is outside its availability window":
		return ErrQuizNotAvailable
	default:
		return ErrAttemptCannotStart
	}
}

// createAttempt assigns the next attempt number and inserts. The unique
// index on (quiz_id, user_id, attempt_number) backstops the in-process
// lock; one retry covers a concurrent insert from another instance.
func (s *attemptService) createAttempt(ctx context.Context, quizID uint, studentID string, orderSnapshot datatypes.JSON) (*models.QuizAttempt, error) {
	for try := 0; try < 2; try++ {
		count, err := s.repo.Attempt().CountByUserAndQuiz(ctx, nil, studentID, quizID)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}

		attempt := &models.QuizAttempt{
			QuizID:        quizID,
			UserID:        studentID,
			AttemptNumber: int(count) + 1,
			Status:        models.AttemptInProgress,
			StartedAt:     time.Now(),
			QuestionOrder: orderSnapshot,
		}

		err = s.repo.Attempt().Create(ctx, nil, attempt)
		if err == nil {
			return attempt, nil
		}
		if repositories.IsDuplicateKeyError(err) && try == 0 {
			s.logger.Warn("Attempt number conflict, retrying",
				"quiz_id", quizID, "student_id", studentID)
			continue
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil, ErrAttemptCannotStart
}

// expireIfOverdue abandons the attempt when its time limit has elapsed.
// Returns true when the attempt was expired.
func (s *attemptService) expireIfOverdue(ctx context.Context, attempt *models.QuizAttempt) (bool, error) {
	quiz, err := s.repo.Quiz().GetByID(ctx, nil, attempt.QuizID)
	if err != nil {
		return false, fmt.Errorf("failed to get quiz: %w", err)
	}

	deadline, limited := attempt.Deadline(quiz.TimeLimit)
	if !limited || time.Now().Before(deadline) {
		return false, nil
	}

	if err := s.abandonAttempt(ctx, attempt, models.AbandonTimeout); err != nil {
		return false, fmt.Errorf("failed to expire attempt: %w", err)
	}
	return true, nil
}

// ===== SUBMIT HELPERS =====

// collectAnswers maps submitted answers onto the attempt's question
// order snapshot. Unknown question ids are rejected in strict mode and
// dropped with a log line otherwise. Duplicate ids keep the last
// submission.
func (s *attemptService) collectAnswers(attempt *models.QuizAttempt, submitted []models.SubmittedAnswer) ([]*models.Answer, error) {
	orderedIDs, err := attempt.OrderedQuestionIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question order snapshot: %w", err)
	}

	valid := make(map[uint]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		valid[id] = true
	}

	responses := make(map[uint]json.RawMessage, len(submitted))
	for _, sa := range submitted {
		if !valid[sa.QuestionID] {
			if s.strictAnswers {
				return nil, NewBusinessRuleError("unknown_question",
					fmt.Sprintf("question %d is not part of this attempt", sa.QuestionID),
					map[string]interface{}{"attempt_id": attempt.ID, "question_id": sa.QuestionID})
			}
			s.logger.Warn("Dropping answer for unknown question",
				"attempt_id", attempt.ID,
				"question_id", sa.QuestionID)
			continue
		}
		if len(sa.Response) == 0 {
			continue
		}
		responses[sa.QuestionID] = sa.Response
	}

	answers := make([]*models.Answer, 0, len(responses))
	for _, id := range orderedIDs {
		response, ok := responses[id]
		if !ok {
			continue
		}
		answers = append(answers, &models.Answer{
			AttemptID:  attempt.ID,
			QuestionID: id,
			Response:   datatypes.JSON(response),
		})
	}

	return answers, nil
}

func elapsedSeconds(start, end time.Time) int {
	seconds := int(end.Sub(start).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

// ===== TERMINAL TRANSITIONS =====

func (s *attemptService) abandonAttempt(ctx context.Context, attempt *models.QuizAttempt, reason models.AbandonReason) error {
	now := time.Now()
	reasonStr := string(reason)

	attempt.Status = models.AttemptAbandoned
	attempt.AbandonedAt = &now
	attempt.CompletedAt = &now
	attempt.TimeTaken = elapsedSeconds(attempt.StartedAt, now)
	attempt.AbandonReason = &reasonStr

	if err := s.repo.Attempt().Update(ctx, nil, attempt); err != nil {
		return fmt.Errorf("failed to abandon attempt: %w", err)
	}

	s.logger.Info("Attempt abandoned",
		"attempt_id", attempt.ID,
		"reason", reasonStr)

	event := events.NewEvent(events.EventAttemptAbandoned, events.AttemptAbandonedEvent{
		AttemptID: attempt.ID,
		QuizID:    attempt.QuizID,
		UserID:    attempt.UserID,
		Reason:    reasonStr,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt abandoned event",
			"attempt_id", attempt.ID, "error", err)
	}

	return nil
}

// ===== RESPONSE BUILDING =====

func (s *attemptService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role, nil
}

func (s *attemptService) canAccessAttempt(ctx context.Context, attempt *models.QuizAttempt, userID string) (bool, error) {
	if attempt.UserID == userID {
		return true, nil
	}

	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	switch userRole {
	case models.RoleAdmin:
		return true, nil
	case models.RoleInstructor:
		quiz, err := s.repo.Quiz().GetByID(ctx, nil, attempt.QuizID)
		if err != nil {
			return false, fmt.Errorf("failed to get quiz: %w", err)
		}
		return quiz.CreatedBy == userID, nil
	default:
		return false, nil
	}
}

func (s *attemptService) canManageQuiz(ctx context.Context, quizID uint, userID string) (bool, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	if user.Role == models.RoleAdmin {
		return true, nil
	}
	if user.Role != models.RoleInstructor {
		return false, nil
	}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrQuizNotFound
		}
		return false, fmt.Errorf("failed to get quiz: %w", err)
	}

	return quiz.CreatedBy == userID, nil
}

func (s *attemptService) buildAttemptResponse(ctx context.Context, attempt *models.QuizAttempt, userID string, includeQuestions bool) (*AttemptResponse, error) {
	response := &AttemptResponse{QuizAttempt: attempt}

	quiz, err := s.repo.Quiz().GetByID(ctx, nil, attempt.QuizID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	if attempt.Status == models.AttemptInProgress && attempt.UserID == userID {
		deadline, limited := attempt.Deadline(quiz.TimeLimit)
		withinTime := !limited || time.Now().Before(deadline)
		response.CanSubmit = withinTime
		response.CanResume = withinTime

		if limited {
			remaining := int(time.Until(deadline).Seconds())
			if remaining < 0 {
				remaining = 0
			}
			response.TimeRemainingSeconds = &remaining
		}
	}

	if includeQuestions && attempt.UserID == userID {
		questions, err := s.getAttemptQuestions(ctx, attempt)
		if err != nil {
			s.logger.Error("Failed to load attempt questions",
				"attempt_id", attempt.ID, "error", err)
		} else {
			// Correct answers stay hidden until the attempt is over
			if attempt.Status == models.AttemptInProgress {
				questions = s.removeCorrectAnswers(questions)
			}
			response.Questions = questions
		}
	}

	return response, nil
}

func (s *attemptService) buildAttemptListResponse(ctx context.Context, attempts []*models.QuizAttempt, total int64, limit, offset int, userID string) (*AttemptListResponse, error) {
	responses := make([]*AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		response, err := s.buildAttemptResponse(ctx, attempt, userID, false)
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}

	page := 0
	if limit > 0 {
		page = offset / limit
	}

	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     page,
		Size:     limit,
	}, nil
}

// getAttemptQuestions replays the order snapshot taken at start, so the
// student sees the same sequence across resumes even if the quiz was
// edited meanwhile.
func (s *attemptService) getAttemptQuestions(ctx context.Context, attempt *models.QuizAttempt) ([]QuestionForAttempt, error) {
	orderedIDs, err := attempt.OrderedQuestionIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question order snapshot: %w", err)
	}
	if len(orderedIDs) == 0 {
		return nil, nil
	}

	questions, err := s.repo.Question().GetByIDs(ctx, nil, orderedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}

	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	ordered := make([]QuestionForAttempt, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		q, ok := byID[id]
		if !ok {
			continue // question deleted after the snapshot was taken
		}
		ordered = append(ordered, QuestionForAttempt{Question: q})
	}
	for i := range ordered {
		ordered[i].IsFirst = i == 0
		ordered[i].IsLast = i == len(ordered)-1
	}

	return ordered, nil
}

// ===== ANSWER SANITIZATION =====

func (s *attemptService) removeCorrectAnswers(questions []QuestionForAttempt) []QuestionForAttempt {
	sanitized := make([]QuestionForAttempt, len(questions))
	for i, q := range questions {
		sanitized[i] = QuestionForAttempt{
			Question: s.sanitizeQuestion(q.Question),
			IsFirst:  q.IsFirst,
			IsLast:   q.IsLast,
		}
	}
	return sanitized
}

func (s *attemptService) sanitizeQuestion(question *models.Question) *models.Question {
	if question == nil {
		return nil
	}

	// Copy so cached/preloaded rows stay intact
	sanitized := *question
	sanitized.Explanation = nil

	if question.Content != nil {
		sanitized.Content = s.sanitizeQuestionContent(question.Kind, question.Content)
	}

	return &sanitized
}

func (s *attemptService) sanitizeQuestionContent(kind models.QuestionKind, content datatypes.JSON) datatypes.JSON {
	switch kind {
	case models.SingleChoice, models.MultipleChoice:
		return s.stripContentFields(content, "correct_option_ids")
	case models.TrueFalse:
		return s.stripContentFields(content, "correct_answer")
	case models.FillBlank:
		return s.stripFillBlankAnswers(content)
	case models.Essay:
		return s.stripContentFields(content, "sample_answer", "rubric_notes")
	default:
		return content
	}
}

func (s *attemptService) stripContentFields(content datatypes.JSON, fields ...string) datatypes.JSON {
	var payload map[string]interface{}
	if err := json.Unmarshal(content, &payload); err != nil {
		s.logger.Error("Failed to unmarshal question content for sanitization", "error", err)
		return content
	}

	for _, field := range fields {
		delete(payload, field)
	}

	sanitized, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal sanitized question content", "error", err)
		return content
	}

	return sanitized
}

func (s *attemptService) stripFillBlankAnswers(content datatypes.JSON) datatypes.JSON {
	var payload map[string]interface{}
	if err := json.Unmarshal(content, &payload); err != nil {
		s.logger.Error("Failed to unmarshal fill blank content for sanitization", "error", err)
		return content
	}

	if blanks, ok := payload["blanks"].(map[string]interface{}); ok {
		for key, blank := range blanks {
			if blankMap, ok := blank.(map[string]interface{}); ok {
				delete(blankMap, "accepted_answers")
				blanks[key] = blankMap
			}
		}
	}

	sanitized, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal sanitized fill blank content", "error", err)
		return content
	}

	return sanitized
}
