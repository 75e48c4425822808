package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coursehub/quiz-service/internal/models"
	"github.com/coursehub/quiz-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory repositories.Repository used across the
// service tests. It honors the not-found and duplicate-key error
// contracts of the real postgres implementation.
type fakeRepository struct {
	mu sync.Mutex

	quizzes   map[uint]*models.Quiz
	questions map[uint]*models.Question
	attempts  map[uint]*models.QuizAttempt
	answers   map[uint]*models.Answer
	users     map[string]*models.User

	nextQuizID     uint
	nextQuestionID uint
	nextAttemptID  uint
	nextAnswerID   uint

	// Error injection, keyed by method name
	failures map[string]error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		quizzes:   make(map[uint]*models.Quiz),
		questions: make(map[uint]*models.Question),
		attempts:  make(map[uint]*models.QuizAttempt),
		answers:   make(map[uint]*models.Answer),
		users:     make(map[string]*models.User),
		failures:  make(map[string]error),
	}
}

func (f *fakeRepository) failWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

func (f *fakeRepository) failure(method string) error {
	return f.failures[method]
}

func (f *fakeRepository) Quiz() repositories.QuizRepository         { return &fakeQuizRepo{f} }
func (f *fakeRepository) Question() repositories.QuestionRepository { return &fakeQuestionRepo{f} }
func (f *fakeRepository) Attempt() repositories.AttemptRepository   { return &fakeAttemptRepo{f} }
func (f *fakeRepository) Answer() repositories.AnswerRepository     { return &fakeAnswerRepo{f} }
func (f *fakeRepository) User() repositories.UserRepository         { return &fakeUserRepo{f} }

func (f *fakeRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	if err := f.failure("WithTransaction"); err != nil {
		return err
	}
	return fn(f)
}

func (f *fakeRepository) Ping(ctx context.Context) error { return nil }
func (f *fakeRepository) Close() error                   { return nil }

// ===== SEED HELPERS =====

func (f *fakeRepository) seedUser(id string, role models.UserRole) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := &models.User{ID: id, FullName: "User " + id, Email: id + "@example.com", Role: role}
	f.users[id] = user
	return user
}

func (f *fakeRepository) seedQuiz(quiz *models.Quiz) *models.Quiz {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quiz.ID == 0 {
		f.nextQuizID++
		quiz.ID = f.nextQuizID
	} else if quiz.ID > f.nextQuizID {
		f.nextQuizID = quiz.ID
	}
	f.quizzes[quiz.ID] = quiz
	return quiz
}

func (f *fakeRepository) seedQuestion(q *models.Question) *models.Question {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.ID == 0 {
		f.nextQuestionID++
		q.ID = f.nextQuestionID
	} else if q.ID > f.nextQuestionID {
		f.nextQuestionID = q.ID
	}
	f.questions[q.ID] = q
	return q
}

func (f *fakeRepository) seedAttempt(a *models.QuizAttempt) *models.QuizAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		f.nextAttemptID++
		a.ID = f.nextAttemptID
	} else if a.ID > f.nextAttemptID {
		f.nextAttemptID = a.ID
	}
	f.attempts[a.ID] = a
	return a
}

func (f *fakeRepository) seedAnswer(a *models.Answer) *models.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		f.nextAnswerID++
		a.ID = f.nextAnswerID
	} else if a.ID > f.nextAnswerID {
		f.nextAnswerID = a.ID
	}
	f.answers[a.ID] = a
	return a
}

// ===== QUIZ REPO =====

type fakeQuizRepo struct{ f *fakeRepository }

func (r *fakeQuizRepo) Create(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	if err := r.f.failure("Quiz.Create"); err != nil {
		return err
	}
	quiz.CreatedAt = time.Now()
	quiz.UpdatedAt = quiz.CreatedAt
	r.f.seedQuiz(quiz)
	return nil
}

func (r *fakeQuizRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Quiz, error) {
	if err := r.f.failure("Quiz.GetByID"); err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	quiz, ok := r.f.quizzes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *quiz
	return &copied, nil
}

func (r *fakeQuizRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Quiz, error) {
	quiz, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, q := range sortedQuestions(r.f.questions, id, false) {
		quiz.Questions = append(quiz.Questions, *q)
	}
	return quiz, nil
}

func (r *fakeQuizRepo) Update(ctx context.Context, tx *gorm.DB, quiz *models.Quiz) error {
	if err := r.f.failure("Quiz.Update"); err != nil {
		return err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.quizzes[quiz.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	quiz.UpdatedAt = time.Now()
	copied := *quiz
	r.f.quizzes[quiz.ID] = &copied
	return nil
}

func (r *fakeQuizRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.quizzes[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.f.quizzes, id)
	return nil
}

func (r *fakeQuizRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Quiz
	for _, quiz := range r.f.quizzes {
		if filters.Status != nil && quiz.Status != *filters.Status {
			continue
		}
		if filters.CourseID != nil && quiz.CourseID != *filters.CourseID {
			continue
		}
		if filters.CreatedBy != nil && quiz.CreatedBy != *filters.CreatedBy {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(quiz.Title), strings.ToLower(filters.Search)) {
			continue
		}
		copied := *quiz
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	out = paginate(out, filters.Limit, filters.Offset)
	return out, total, nil
}

func (r *fakeQuizRepo) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.QuizFilters) ([]*models.Quiz, int64, error) {
	filters.CreatedBy = &creatorID
	return r.List(ctx, tx, filters)
}

func (r *fakeQuizRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.QuizStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	quiz, ok := r.f.quizzes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	quiz.Status = status
	return nil
}

func (r *fakeQuizRepo) Exists(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	_, ok := r.f.quizzes[id]
	return ok, nil
}

func (r *fakeQuizRepo) HasAttempts(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, a := range r.f.attempts {
		if a.QuizID == id {
			return true, nil
		}
	}
	return false, nil
}

// ===== QUESTION REPO =====

type fakeQuestionRepo struct{ f *fakeRepository }

func (r *fakeQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.f.seedQuestion(question)
	return nil
}

func (r *fakeQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	q, ok := r.f.questions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *q
	return &copied, nil
}

func (r *fakeQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.questions[question.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *question
	r.f.questions[question.ID] = &copied
	return nil
}

func (r *fakeQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.questions[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.f.questions, id)
	return nil
}

func (r *fakeQuestionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error {
	if err := r.f.failure("Question.CreateBatch"); err != nil {
		return err
	}
	for _, q := range questions {
		r.f.seedQuestion(q)
	}
	return nil
}

func (r *fakeQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]*models.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := r.f.questions[id]; ok {
			copied := *q
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeQuestionRepo) GetByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) ([]*models.Question, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return sortedQuestions(r.f.questions, quizID, false), nil
}

func (r *fakeQuestionRepo) GetActiveByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) ([]*models.Question, error) {
	if err := r.f.failure("Question.GetActiveByQuiz"); err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return sortedQuestions(r.f.questions, quizID, true), nil
}

func (r *fakeQuestionRepo) CountActiveByQuiz(ctx context.Context, tx *gorm.DB, quizID uint) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return int64(len(sortedQuestions(r.f.questions, quizID, true))), nil
}

func (r *fakeQuestionRepo) TotalActivePoints(ctx context.Context, tx *gorm.DB, quizID uint) (float64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var total float64
	for _, q := range sortedQuestions(r.f.questions, quizID, true) {
		total += q.Points
	}
	return total, nil
}

func sortedQuestions(questions map[uint]*models.Question, quizID uint, activeOnly bool) []*models.Question {
	var out []*models.Question
	for _, q := range questions {
		if q.QuizID != quizID {
			continue
		}
		if activeOnly && !q.IsActive {
			continue
		}
		copied := *q
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ===== ATTEMPT REPO =====

type fakeAttemptRepo struct{ f *fakeRepository }

func (r *fakeAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	if err := r.f.failure("Attempt.Create"); err != nil {
		return err
	}
	r.f.mu.Lock()
	for _, existing := range r.f.attempts {
		if existing.QuizID == attempt.QuizID && existing.UserID == attempt.UserID &&
			existing.AttemptNumber == attempt.AttemptNumber {
			r.f.mu.Unlock()
			return gorm.ErrDuplicatedKey
		}
	}
	r.f.mu.Unlock()
	r.f.seedAttempt(attempt)
	return nil
}

func (r *fakeAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	if err := r.f.failure("Attempt.GetByID"); err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAttemptRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.QuizAttempt, error) {
	attempt, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if quiz, ok := r.f.quizzes[attempt.QuizID]; ok {
		attempt.Quiz = *quiz
	}
	for _, a := range r.f.answers {
		if a.AttemptID == id {
			attempt.Answers = append(attempt.Answers, *a)
		}
	}
	return attempt, nil
}

func (r *fakeAttemptRepo) Update(ctx context.Context, tx *gorm.DB, attempt *models.QuizAttempt) error {
	if err := r.f.failure("Attempt.Update"); err != nil {
		return err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.attempts[attempt.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *attempt
	r.f.attempts[attempt.ID] = &copied
	return nil
}

func (r *fakeAttemptRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.QuizAttempt, int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.QuizAttempt
	for _, a := range r.f.attempts {
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		if filters.UserID != nil && a.UserID != *filters.UserID {
			continue
		}
		if filters.QuizID != nil && a.QuizID != *filters.QuizID {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	out = paginate(out, filters.Limit, filters.Offset)
	return out, total, nil
}

func (r *fakeAttemptRepo) GetByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID string, quizID uint) ([]*models.QuizAttempt, error) {
	attempts, _, err := r.List(ctx, tx, repositories.AttemptFilters{UserID: &userID, QuizID: &quizID})
	return attempts, err
}

func (r *fakeAttemptRepo) GetActiveAttempt(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (*models.QuizAttempt, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, a := range r.f.attempts {
		if a.UserID == userID && a.QuizID == quizID && a.Status == models.AttemptInProgress {
			copied := *a
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAttemptRepo) HasActiveAttempt(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (bool, error) {
	_, err := r.GetActiveAttempt(ctx, tx, userID, quizID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *fakeAttemptRepo) CountByUserAndQuiz(ctx context.Context, tx *gorm.DB, userID string, quizID uint) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var count int64
	for _, a := range r.f.attempts {
		if a.UserID == userID && a.QuizID == quizID {
			count++
		}
	}
	return count, nil
}

func (r *fakeAttemptRepo) GetOverdueAttempts(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.QuizAttempt, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.QuizAttempt
	for _, a := range r.f.attempts {
		if a.Status != models.AttemptInProgress {
			continue
		}
		quiz, ok := r.f.quizzes[a.QuizID]
		if !ok {
			continue
		}
		deadline, limited := a.Deadline(quiz.TimeLimit)
		if limited && now.After(deadline) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAttemptRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.AttemptStatus) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Status = status
	return nil
}

func (r *fakeAttemptRepo) UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score, maxScore, percentage float64, passed, fullyGraded bool) error {
	if err := r.f.failure("Attempt.UpdateScore"); err != nil {
		return err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Score = score
	a.MaxScore = maxScore
	a.Percentage = percentage
	a.Passed = passed
	a.FullyGraded = fullyGraded
	return nil
}

func (r *fakeAttemptRepo) GetQuizAttemptStats(ctx context.Context, tx *gorm.DB, quizID uint) (*repositories.AttemptStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	stats := &repositories.AttemptStats{StatusBreakdown: make(map[models.AttemptStatus]int)}
	for _, a := range r.f.attempts {
		if a.QuizID != quizID {
			continue
		}
		stats.TotalAttempts++
		stats.StatusBreakdown[a.Status]++
	}
	return stats, nil
}

// ===== ANSWER REPO =====

type fakeAnswerRepo struct{ f *fakeRepository }

func (r *fakeAnswerRepo) Create(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	r.f.seedAnswer(answer)
	return nil
}

func (r *fakeAnswerRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.answers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAnswerRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	answer, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if attempt, ok := r.f.attempts[answer.AttemptID]; ok {
		answer.Attempt = *attempt
	}
	if question, ok := r.f.questions[answer.QuestionID]; ok {
		answer.Question = *question
	}
	return answer, nil
}

func (r *fakeAnswerRepo) Update(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	if err := r.f.failure("Answer.Update"); err != nil {
		return err
	}
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.answers[answer.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *answer
	copied.Attempt = models.QuizAttempt{}
	copied.Question = models.Question{}
	r.f.answers[answer.ID] = &copied
	return nil
}

func (r *fakeAnswerRepo) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error {
	if err := r.f.failure("Answer.CreateBatch"); err != nil {
		return err
	}
	for _, a := range answers {
		r.f.seedAnswer(a)
	}
	return nil
}

func (r *fakeAnswerRepo) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Answer
	for _, a := range r.f.answers {
		if a.AttemptID == attemptID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAnswerRepo) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.Answer, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, a := range r.f.answers {
		if a.AttemptID == attemptID && a.QuestionID == questionID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAnswerRepo) UpdateGrade(ctx context.Context, tx *gorm.DB, id uint, earnedPoints float64, isCorrect *bool, feedback *string, graderID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.answers[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	a.EarnedPoints = earnedPoints
	a.IsCorrect = isCorrect
	a.Feedback = feedback
	a.GradedBy = &graderID
	a.GradedAt = &now
	return nil
}

func (r *fakeAnswerRepo) GetPendingGrading(ctx context.Context, tx *gorm.DB, quizID uint, filters repositories.AnswerFilters) ([]*models.Answer, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Answer
	for _, a := range r.f.answers {
		attempt, ok := r.f.attempts[a.AttemptID]
		if !ok || attempt.QuizID != quizID {
			continue
		}
		question, ok := r.f.questions[a.QuestionID]
		if !ok || !question.Kind.RequiresManualGrading() {
			continue
		}
		if a.GradedAt != nil {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (r *fakeAnswerRepo) CountUngraded(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var count int64
	for _, a := range r.f.answers {
		if a.AttemptID == attemptID && a.GradedAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *fakeAnswerRepo) GetGradingStats(ctx context.Context, tx *gorm.DB, quizID uint) (*repositories.GradingStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	stats := &repositories.GradingStats{}
	for _, a := range r.f.answers {
		attempt, ok := r.f.attempts[a.AttemptID]
		if !ok || attempt.QuizID != quizID {
			continue
		}
		question, ok := r.f.questions[a.QuestionID]
		if !ok || !question.Kind.RequiresManualGrading() {
			continue
		}
		stats.TotalAnswers++
		if a.GradedAt != nil {
			stats.GradedAnswers++
		} else {
			stats.PendingAnswers++
		}
	}
	return stats, nil
}

// ===== USER REPO =====

type fakeUserRepo struct{ f *fakeRepository }

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	user, ok := r.f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, user := range r.f.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.f.users[id]; ok {
			copied := *user
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.User
	for _, user := range r.f.users {
		if filters.Query != "" && !strings.Contains(strings.ToLower(user.FullName), strings.ToLower(filters.Query)) {
			continue
		}
		copied := *user
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	return paginate(out, filters.Limit, filters.Offset), total, nil
}

func (r *fakeUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	_, ok := r.f.users[id]
	return ok, nil
}

func (r *fakeUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

// ===== SHARED TEST HELPERS =====

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func mustContent(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal content: %v", err)
	}
	return datatypes.JSON(data)
}

func mustResponse(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	return mustContent(t, v)
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func timePtr(t time.Time) *time.Time { return &t }
