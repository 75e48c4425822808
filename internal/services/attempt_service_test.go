package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coursehub/quiz-service/internal/events"
	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"github.com/coursehub/quiz-service/internal/validator"
)

type attemptFixture struct {
	repo      *fakeRepository
	publisher *events.MockEventPublisher
	service   AttemptService
}

func newAttemptFixture(strictAnswers bool) *attemptFixture {
	repo := newFakeRepository()
	publisher := events.NewMockEventPublisher(testLogger())
	v := validator.New()
	scoring := NewScoringService(repo, testLogger(), v, publisher)
	service := NewAttemptService(repo, testLogger(), v, publisher, scoring, strictAnswers)
	return &attemptFixture{repo: repo, publisher: publisher, service: service}
}

// seedTakeableQuiz creates an active two-question quiz owned by
// "teacher-1", with "student-1" ready to take it.
func (fx *attemptFixture) seedTakeableQuiz(t *testing.T, mutate func(*models.Quiz)) *models.Quiz {
	t.Helper()
	fx.repo.seedUser("teacher-1", models.RoleInstructor)
	fx.repo.seedUser("student-1", models.RoleStudent)

	quiz := &models.Quiz{
		Title:        "Lifecycle Quiz",
		Status:       models.QuizActive,
		PassingScore: 50,
		MaxAttempts:  3,
		CreatedBy:    "teacher-1",
	}
	if mutate != nil {
		mutate(quiz)
	}
	fx.repo.seedQuiz(quiz)

	fx.repo.seedQuestion(&models.Question{
		QuizID: quiz.ID, Kind: models.SingleChoice, Text: "pick one", Points: 2, Position: 0, IsActive: true,
		Content: mustContent(t, models.ChoiceContent{
			Options: []models.ChoiceOption{
				{ID: "a", Text: "Alpha"},
				{ID: "b", Text: "Beta"},
			},
			CorrectOptionIDs: []string{"a"},
		}),
	})
	fx.repo.seedQuestion(&models.Question{
		QuizID: quiz.ID, Kind: models.TrueFalse, Text: "true or false", Points: 1, Position: 1, IsActive: true,
		Content: mustContent(t, models.TrueFalseContent{CorrectAnswer: true}),
	})

	return quiz
}

func (fx *attemptFixture) seedInProgressAttempt(t *testing.T, quiz *models.Quiz, userID string, startedAt time.Time) *models.QuizAttempt {
	t.Helper()
	count, _ := fx.repo.Attempt().CountByUserAndQuiz(context.Background(), nil, userID, quiz.ID)
	return fx.repo.seedAttempt(&models.QuizAttempt{
		QuizID:        quiz.ID,
		UserID:        userID,
		AttemptNumber: int(count) + 1,
		Status:        models.AttemptInProgress,
		StartedAt:     startedAt,
		QuestionOrder: mustContent(t, []uint{1, 2}),
	})
}

func TestStartAttempt(t *testing.T) {
	t.Run("starts with question order snapshot", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)

		response, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if response.Status != models.AttemptInProgress || response.AttemptNumber != 1 {
			t.Errorf("attempt = status %s number %d, want in_progress/1", response.Status, response.AttemptNumber)
		}

		var order []uint
		if err := json.Unmarshal(response.QuestionOrder, &order); err != nil {
			t.Fatalf("failed to decode question order: %v", err)
		}
		if len(order) != 2 {
			t.Errorf("question order = %v, want both active questions", order)
		}
		if !response.CanSubmit || !response.CanResume {
			t.Error("fresh attempt should be submittable and resumable")
		}
	})

	t.Run("missing quiz id surfaces field errors", func(t *testing.T) {
		fx := newAttemptFixture(false)

		_, err := fx.service.Start(context.Background(), &StartAttemptRequest{}, "student-1")

		var vErrs validator.ValidationErrors
		if !errors.As(err, &vErrs) || !vErrs.HasErrors() {
			t.Fatalf("Start() error = %v, want field-level validation errors", err)
		}
	})

	t.Run("concurrent starts yield a single attempt", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)

		const starters = 8
		ids := make([]uint, starters)
		errs := make([]error, starters)

		var wg sync.WaitGroup
		for i := 0; i < starters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				response, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
				if err == nil {
					ids[i] = response.ID
				}
				errs[i] = err
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("Start() #%d error = %v", i, err)
			}
		}
		for i, id := range ids {
			if id != ids[0] {
				t.Errorf("Start() #%d attempt id = %d, want every caller on attempt %d", i, id, ids[0])
			}
		}

		count, _ := fx.repo.Attempt().CountByUserAndQuiz(context.Background(), nil, "student-1", quiz.ID)
		if count != 1 {
			t.Errorf("attempt count = %d, want 1", count)
		}
	})

	t.Run("hides correct answers while in progress", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)

		response, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if len(response.Questions) != 2 {
			t.Fatalf("questions = %d, want 2", len(response.Questions))
		}
		for _, q := range response.Questions {
			content := string(q.Content)
			if strings.Contains(content, "correct_option_ids") || strings.Contains(content, "correct_answer") {
				t.Errorf("question %d content leaks correct answers: %s", q.ID, content)
			}
		}
	})

	t.Run("resumes existing active attempt", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)

		first, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if err != nil {
			t.Fatalf("first Start() error = %v", err)
		}
		second, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if err != nil {
			t.Fatalf("second Start() error = %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("second start created attempt %d, want resume of %d", second.ID, first.ID)
		}

		count, _ := fx.repo.Attempt().CountByUserAndQuiz(context.Background(), nil, "student-1", quiz.ID)
		if count != 1 {
			t.Errorf("attempt count = %d, want 1", count)
		}
	})

	t.Run("expired active attempt is abandoned and a new one starts", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
		stale := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-30*time.Minute))

		response, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if response.ID == stale.ID {
			t.Fatal("expired attempt was resumed, want a fresh attempt")
		}
		if response.AttemptNumber != 2 {
			t.Errorf("attempt number = %d, want 2", response.AttemptNumber)
		}

		old, _ := fx.repo.Attempt().GetByID(context.Background(), nil, stale.ID)
		if old.Status != models.AttemptAbandoned || old.AbandonReason == nil || *old.AbandonReason != string(models.AbandonTimeout) {
			t.Errorf("stale attempt = %s/%v, want abandoned with timeout reason", old.Status, old.AbandonReason)
		}
	})

	t.Run("denied states", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(*models.Quiz)
			prepare func(*attemptFixture, *models.Quiz)
			wantErr error
		}{
			{
				name:    "draft quiz",
				mutate:  func(q *models.Quiz) { q.Status = models.QuizDraft },
				wantErr: ErrQuizNotAvailable,
			},
			{
				name:    "window closed",
				mutate:  func(q *models.Quiz) { q.AvailableUntil = timePtr(time.Now().Add(-time.Hour)) },
				wantErr: ErrQuizNotAvailable,
			},
			{
				name:   "attempt limit reached",
				mutate: func(q *models.Quiz) { q.MaxAttempts = 1 },
				prepare: func(fx *attemptFixture, quiz *models.Quiz) {
					now := time.Now()
					fx.repo.seedAttempt(&models.QuizAttempt{
						QuizID: quiz.ID, UserID: "student-1", AttemptNumber: 1,
						Status: models.AttemptCompleted, StartedAt: now.Add(-time.Hour), CompletedAt: &now,
					})
				},
				wantErr: ErrAttemptLimitReached,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := newAttemptFixture(false)
				quiz := fx.seedTakeableQuiz(t, tt.mutate)
				if tt.prepare != nil {
					tt.prepare(fx, quiz)
				}
				_, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("quiz without active questions", func(t *testing.T) {
		fx := newAttemptFixture(false)
		fx.repo.seedUser("student-1", models.RoleStudent)
		quiz := fx.repo.seedQuiz(&models.Quiz{
			Title: "Empty", Status: models.QuizActive, PassingScore: 50, MaxAttempts: 3, CreatedBy: "teacher-1",
		})

		_, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: quiz.ID}, "student-1")
		if !errors.Is(err, ErrQuizHasNoQuestions) {
			t.Errorf("Start() error = %v, want ErrQuizHasNoQuestions", err)
		}
	})

	t.Run("missing quiz", func(t *testing.T) {
		fx := newAttemptFixture(false)
		fx.repo.seedUser("student-1", models.RoleStudent)

		_, err := fx.service.Start(context.Background(), &StartAttemptRequest{QuizID: 404}, "student-1")
		if !errors.Is(err, ErrQuizNotFound) {
			t.Errorf("Start() error = %v, want ErrQuizNotFound", err)
		}
	})
}

func TestCanStart(t *testing.T) {
	t.Run("eligible student", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)

		validation, err := fx.service.CanStart(context.Background(), quiz.ID, "student-1")
		if err != nil {
			t.Fatalf("CanStart() error = %v", err)
		}
		if !validation.CanStart || validation.AttemptsUsed != 0 || validation.AttemptsRemaining != 3 {
			t.Errorf("validation = %+v, want eligible with 3 remaining", validation)
		}
	})

	t.Run("active attempt blocks a second start", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		validation, err := fx.service.CanStart(context.Background(), quiz.ID, "student-1")
		if err != nil {
			t.Fatalf("CanStart() error = %v", err)
		}
		if validation.CanStart || validation.Reason != "an attempt is already in progress" {
			t.Errorf("validation = %+v, want blocked by active attempt", validation)
		}
	})

	t.Run("attempts remaining never negative", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.MaxAttempts = 1 })
		now := time.Now()
		for i := 1; i <= 2; i++ {
			fx.repo.seedAttempt(&models.QuizAttempt{
				QuizID: quiz.ID, UserID: "student-1", AttemptNumber: i,
				Status: models.AttemptCompleted, StartedAt: now.Add(-time.Hour), CompletedAt: &now,
			})
		}

		validation, err := fx.service.CanStart(context.Background(), quiz.ID, "student-1")
		if err != nil {
			t.Fatalf("CanStart() error = %v", err)
		}
		if validation.CanStart || validation.Reason != "maximum attempts reached" || validation.AttemptsRemaining != 0 {
			t.Errorf("validation = %+v, want blocked with 0 remaining", validation)
		}
	})
}

func TestSubmitAttempt(t *testing.T) {
	correctAnswers := func(t *testing.T) []models.SubmittedAnswer {
		t.Helper()
		return []models.SubmittedAnswer{
			{QuestionID: 1, Response: json.RawMessage(mustResponse(t, models.ChoiceAnswer{SelectedOptionIDs: []string{"a"}}))},
			{QuestionID: 2, Response: json.RawMessage(mustResponse(t, models.TrueFalseAnswer{Value: true}))},
		}
	}

	t.Run("submits and scores", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-5*time.Minute))

		response, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{
			AttemptID: attempt.ID,
			Answers:   correctAnswers(t),
		}, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if response.Status != models.AttemptCompleted || response.CompletedAt == nil {
			t.Errorf("attempt = %s, want completed with timestamp", response.Status)
		}
		if response.Score != 3 || response.Percentage != 100 || !response.Passed {
			t.Errorf("score = %g/%g%% passed=%v, want 3/100/true",
				response.Score, response.Percentage, response.Passed)
		}
		if response.TimeTaken < 299 || response.TimeTaken > 301 {
			t.Errorf("time taken = %d, want about 300 seconds", response.TimeTaken)
		}

		var completed int
		for _, event := range fx.publisher.GetPublishedEvents() {
			if event.Type == events.EventAttemptCompleted {
				completed++
			}
		}
		if completed != 1 {
			t.Errorf("published %d completed events, want 1", completed)
		}
	})

	t.Run("terminal states rejected", func(t *testing.T) {
		tests := []struct {
			name    string
			status  models.AttemptStatus
			wantErr error
		}{
			{name: "already submitted", status: models.AttemptCompleted, wantErr: ErrAttemptAlreadySubmitted},
			{name: "abandoned", status: models.AttemptAbandoned, wantErr: ErrAttemptNotActive},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := newAttemptFixture(false)
				quiz := fx.seedTakeableQuiz(t, nil)
				attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())
				attempt.Status = tt.status
				fx.repo.seedAttempt(attempt)

				_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID}, "student-1")
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("expired attempt rejected and abandoned", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-30*time.Minute))

		_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{
			AttemptID: attempt.ID,
			Answers:   correctAnswers(t),
		}, "student-1")
		if !errors.Is(err, ErrAttemptTimeExpired) {
			t.Fatalf("Submit() error = %v, want ErrAttemptTimeExpired", err)
		}

		stored, _ := fx.repo.Attempt().GetByID(context.Background(), nil, attempt.ID)
		if stored.Status != models.AttemptAbandoned {
			t.Errorf("attempt status = %s, want abandoned", stored.Status)
		}
	})

	t.Run("not owner", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		fx.repo.seedUser("student-2", models.RoleStudent)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID}, "student-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("Submit() error = %v, want PermissionError", err)
		}
	})

	t.Run("unknown question dropped in lenient mode", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		answers := append(correctAnswers(t), models.SubmittedAnswer{
			QuestionID: 99,
			Response:   json.RawMessage(mustResponse(t, models.TrueFalseAnswer{Value: true})),
		})
		_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID, Answers: answers}, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		persisted, _ := fx.repo.Answer().GetByAttempt(context.Background(), nil, attempt.ID)
		if len(persisted) != 2 {
			t.Errorf("persisted %d answers, want 2 with unknown question dropped", len(persisted))
		}
	})

	t.Run("unknown question rejected in strict mode", func(t *testing.T) {
		fx := newAttemptFixture(true)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		answers := []models.SubmittedAnswer{{
			QuestionID: 99,
			Response:   json.RawMessage(mustResponse(t, models.TrueFalseAnswer{Value: true})),
		}}
		_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID, Answers: answers}, "student-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) || ruleErr.Rule != "unknown_question" {
			t.Errorf("Submit() error = %v, want unknown_question rule violation", err)
		}
	})

	t.Run("duplicate answers keep the last submission", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		answers := []models.SubmittedAnswer{
			{QuestionID: 1, Response: json.RawMessage(mustResponse(t, models.ChoiceAnswer{SelectedOptionIDs: []string{"b"}}))},
			{QuestionID: 1, Response: json.RawMessage(mustResponse(t, models.ChoiceAnswer{SelectedOptionIDs: []string{"a"}}))},
		}
		response, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID, Answers: answers}, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if response.Score != 2 {
			t.Errorf("score = %g, want 2 from the later correct submission", response.Score)
		}

		persisted, _ := fx.repo.Answer().GetByAttempt(context.Background(), nil, attempt.ID)
		if len(persisted) != 1 {
			t.Errorf("persisted %d answers, want 1", len(persisted))
		}
	})

	t.Run("empty responses are skipped", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		answers := []models.SubmittedAnswer{
			{QuestionID: 1},
			{QuestionID: 2, Response: json.RawMessage(mustResponse(t, models.TrueFalseAnswer{Value: true}))},
		}
		_, err := fx.service.Submit(context.Background(), &SubmitAttemptRequest{AttemptID: attempt.ID, Answers: answers}, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		persisted, _ := fx.repo.Answer().GetByAttempt(context.Background(), nil, attempt.ID)
		if len(persisted) != 1 || persisted[0].QuestionID != 2 {
			t.Errorf("persisted = %d answers, want only question 2", len(persisted))
		}
	})
}

func TestAbandonAttempt(t *testing.T) {
	t.Run("owner abandons in-progress attempt", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		if err := fx.service.Abandon(context.Background(), attempt.ID, "student-1"); err != nil {
			t.Fatalf("Abandon() error = %v", err)
		}

		stored, _ := fx.repo.Attempt().GetByID(context.Background(), nil, attempt.ID)
		if stored.Status != models.AttemptAbandoned || stored.AbandonedAt == nil {
			t.Errorf("attempt = %s, want abandoned with timestamp", stored.Status)
		}
		if stored.CompletedAt == nil {
			t.Error("completed_at = nil, abandon must close the attempt timeline")
		}
		if stored.AbandonReason == nil || *stored.AbandonReason != string(models.AbandonRequested) {
			t.Errorf("abandon reason = %v, want requested", stored.AbandonReason)
		}

		published := fx.publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.EventAttemptAbandoned {
			t.Errorf("published events = %d, want one abandoned event", len(published))
		}
	})

	t.Run("terminal attempt rejected", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())
		attempt.Status = models.AttemptCompleted
		fx.repo.seedAttempt(attempt)

		if err := fx.service.Abandon(context.Background(), attempt.ID, "student-1"); !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("Abandon() error = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("not owner", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		err := fx.service.Abandon(context.Background(), attempt.ID, "student-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("Abandon() error = %v, want PermissionError", err)
		}
	})
}

func TestGetTimeRemaining(t *testing.T) {
	t.Run("untimed quiz reports zero", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, nil)
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

		remaining, err := fx.service.GetTimeRemaining(context.Background(), attempt.ID, "student-1")
		if err != nil || remaining != 0 {
			t.Errorf("GetTimeRemaining() = (%d, %v), want (0, nil)", remaining, err)
		}
	})

	t.Run("timed quiz reports seconds left", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-5*time.Minute))

		remaining, err := fx.service.GetTimeRemaining(context.Background(), attempt.ID, "student-1")
		if err != nil {
			t.Fatalf("GetTimeRemaining() error = %v", err)
		}
		if remaining < 295 || remaining > 300 {
			t.Errorf("remaining = %d, want about 300 seconds", remaining)
		}
	})

	t.Run("expired attempt reports zero", func(t *testing.T) {
		fx := newAttemptFixture(false)
		quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
		attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-time.Hour))

		remaining, err := fx.service.GetTimeRemaining(context.Background(), attempt.ID, "student-1")
		if err != nil || remaining != 0 {
			t.Errorf("GetTimeRemaining() = (%d, %v), want (0, nil)", remaining, err)
		}
	})
}

func TestHandleTimeout(t *testing.T) {
	fx := newAttemptFixture(false)
	quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
	attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-time.Hour))

	if err := fx.service.HandleTimeout(context.Background(), attempt.ID); err != nil {
		t.Fatalf("HandleTimeout() error = %v", err)
	}

	stored, _ := fx.repo.Attempt().GetByID(context.Background(), nil, attempt.ID)
	if stored.Status != models.AttemptAbandoned || stored.AbandonReason == nil || *stored.AbandonReason != string(models.AbandonTimeout) {
		t.Errorf("attempt = %s/%v, want abandoned with timeout reason", stored.Status, stored.AbandonReason)
	}

	// Terminal attempts are a no-op
	if err := fx.service.HandleTimeout(context.Background(), attempt.ID); err != nil {
		t.Errorf("HandleTimeout() on terminal attempt error = %v, want nil", err)
	}
}

func TestSweepOverdueAttempts(t *testing.T) {
	fx := newAttemptFixture(false)
	quiz := fx.seedTakeableQuiz(t, func(q *models.Quiz) { q.TimeLimit = intPtr(10) })
	fx.repo.seedUser("student-2", models.RoleStudent)

	overdue1 := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now().Add(-time.Hour))
	overdue2 := fx.seedInProgressAttempt(t, quiz, "student-2", time.Now().Add(-2*time.Hour))
	fresh := fx.seedInProgressAttempt(t, quiz, "teacher-1", time.Now())

	swept, err := fx.service.SweepOverdueAttempts(context.Background())
	if err != nil {
		t.Fatalf("SweepOverdueAttempts() error = %v", err)
	}
	if swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}

	for _, id := range []uint{overdue1.ID, overdue2.ID} {
		stored, _ := fx.repo.Attempt().GetByID(context.Background(), nil, id)
		if stored.Status != models.AttemptAbandoned || stored.AbandonReason == nil || *stored.AbandonReason != string(models.AbandonSwept) {
			t.Errorf("attempt %d = %s/%v, want abandoned with swept reason", id, stored.Status, stored.AbandonReason)
		}
	}

	stored, _ := fx.repo.Attempt().GetByID(context.Background(), nil, fresh.ID)
	if stored.Status != models.AttemptInProgress {
		t.Errorf("fresh attempt status = %s, want still in progress", stored.Status)
	}
}

func TestAttemptAccess(t *testing.T) {
	fx := newAttemptFixture(false)
	quiz := fx.seedTakeableQuiz(t, nil)
	fx.repo.seedUser("student-2", models.RoleStudent)
	fx.repo.seedUser("teacher-2", models.RoleInstructor)
	fx.repo.seedUser("admin-1", models.RoleAdmin)
	attempt := fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())

	tests := []struct {
		name     string
		userID   string
		wantDeny bool
	}{
		{name: "owner", userID: "student-1"},
		{name: "quiz owner instructor", userID: "teacher-1"},
		{name: "admin", userID: "admin-1"},
		{name: "other student", userID: "student-2", wantDeny: true},
		{name: "unrelated instructor", userID: "teacher-2", wantDeny: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.GetByID(context.Background(), attempt.ID, tt.userID)
			var permErr *PermissionError
			denied := errors.As(err, &permErr)
			if denied != tt.wantDeny {
				t.Errorf("GetByID() as %s: denied = %v, want %v (err = %v)", tt.userID, denied, tt.wantDeny, err)
			}
		})
	}
}

func TestListAttempts(t *testing.T) {
	fx := newAttemptFixture(false)
	quiz := fx.seedTakeableQuiz(t, nil)
	fx.repo.seedUser("student-2", models.RoleStudent)

	fx.seedInProgressAttempt(t, quiz, "student-1", time.Now())
	fx.seedInProgressAttempt(t, quiz, "student-2", time.Now())

	t.Run("students see only their own attempts", func(t *testing.T) {
		response, err := fx.service.List(context.Background(), repositories.AttemptFilters{}, "student-1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if response.Total != 1 || len(response.Attempts) != 1 {
			t.Fatalf("list = %d/%d attempts, want 1", len(response.Attempts), response.Total)
		}
		if response.Attempts[0].UserID != "student-1" {
			t.Errorf("listed attempt belongs to %s, want student-1", response.Attempts[0].UserID)
		}
	})

	t.Run("instructors see everything", func(t *testing.T) {
		response, err := fx.service.List(context.Background(), repositories.AttemptFilters{}, "teacher-1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if response.Total != 2 {
			t.Errorf("total = %d, want 2", response.Total)
		}
	})
}
