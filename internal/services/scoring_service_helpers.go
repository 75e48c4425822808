package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/coursehub/quiz-service/internal/models"
	"gorm.io/datatypes"
)

// computeScore aggregates an attempt's answers against the quiz's active
// question set. The denominator covers every active question whether or
// not it was answered. Returns the aggregate plus the auto-graded answer
// rows that need persisting.
func (s *scoringService) computeScore(attemptID uint, quiz *models.Quiz, questions []*models.Question, answers []*models.Answer) (*AttemptScoreResult, []*models.Answer) {
	answerByQuestion := make(map[uint]*models.Answer, len(answers))
	for _, a := range answers {
		answerByQuestion[a.QuestionID] = a
	}

	result := &AttemptScoreResult{
		AttemptID:   attemptID,
		FullyGraded: true,
		Answers:     make([]GradingResult, 0, len(questions)),
	}
	var gradedAnswers []*models.Answer

	for _, q := range questions {
		result.MaxScore += q.Points

		answer, answered := answerByQuestion[q.ID]
		if !answered {
			// Unanswered questions stay in the denominator only
			continue
		}

		if q.Kind.RequiresManualGrading() {
			if answer.GradedAt != nil {
				result.Score += answer.EarnedPoints
			} else {
				result.FullyGraded = false
			}
			result.Answers = append(result.Answers, GradingResult{
				AnswerID:     answer.ID,
				QuestionID:   q.ID,
				EarnedPoints: answer.EarnedPoints,
				MaxPoints:    q.Points,
				IsCorrect:    answer.IsCorrect,
				Feedback:     answer.Feedback,
			})
			continue
		}

		earned, correct, err := evaluateAnswer(q, answer.Response)
		if err != nil {
			s.logger.Warn("Failed to evaluate answer, counting as incorrect",
				"attempt_id", attemptID,
				"answer_id", answer.ID,
				"question_id", q.ID,
				"error", err)
			earned, correct = 0, false
		}

		answer.EarnedPoints = earned
		answer.IsCorrect = &correct
		gradedAnswers = append(gradedAnswers, answer)

		result.Score += earned
		result.Answers = append(result.Answers, GradingResult{
			AnswerID:     answer.ID,
			QuestionID:   q.ID,
			EarnedPoints: earned,
			MaxPoints:    q.Points,
			IsCorrect:    answer.IsCorrect,
		})
	}

	if result.MaxScore > 0 {
		result.Percentage = round2(result.Score / result.MaxScore * 100)
	}
	result.Passed = result.Percentage >= quiz.PassingScore

	return result, gradedAnswers
}

// evaluateAnswer applies the per-kind correctness rule. All-or-nothing:
// a correct response earns the question's full points, anything else
// earns zero.
func evaluateAnswer(q *models.Question, response datatypes.JSON) (float64, bool, error) {
	if len(response) == 0 {
		return 0, false, nil
	}

	var correct bool
	var err error

	switch q.Kind {
	case models.SingleChoice, models.MultipleChoice:
		correct, err = evaluateChoice(q.Content, response)
	case models.TrueFalse:
		correct, err = evaluateTrueFalse(q.Content, response)
	case models.FillBlank:
		correct, err = evaluateFillBlank(q.Content, response)
	default:
		return 0, false, fmt.Errorf("question kind %s is not auto-gradable", q.Kind)
	}
	if err != nil {
		return 0, false, err
	}

	if correct {
		return q.Points, true, nil
	}
	return 0, false, nil
}

// evaluateChoice requires set equality between the selected and correct
// option ids. Order and duplicates are ignored; no partial credit.
func evaluateChoice(content, response datatypes.JSON) (bool, error) {
	var c models.ChoiceContent
	if err := json.Unmarshal(content, &c); err != nil {
		return false, fmt.Errorf("failed to unmarshal choice content: %w", err)
	}

	var a models.ChoiceAnswer
	if err := json.Unmarshal(response, &a); err != nil {
		return false, fmt.Errorf("failed to unmarshal choice answer: %w", err)
	}

	return stringSetEqual(a.SelectedOptionIDs, c.CorrectOptionIDs), nil
}

func evaluateTrueFalse(content, response datatypes.JSON) (bool, error) {
	var c models.TrueFalseContent
	if err := json.Unmarshal(content, &c); err != nil {
		return false, fmt.Errorf("failed to unmarshal true/false content: %w", err)
	}

	var a models.TrueFalseAnswer
	if err := json.Unmarshal(response, &a); err != nil {
		return false, fmt.Errorf("failed to unmarshal true/false answer: %w", err)
	}

	return a.Value == c.CorrectAnswer, nil
}

// evaluateFillBlank matches each blank case-insensitively, with
// surrounding whitespace trimmed, against the accepted answers for that
// blank. Every blank must match.
func evaluateFillBlank(content, response datatypes.JSON) (bool, error) {
	var c models.FillBlankContent
	if err := json.Unmarshal(content, &c); err != nil {
		return false, fmt.Errorf("failed to unmarshal fill blank content: %w", err)
	}

	var a models.FillBlankAnswer
	if err := json.Unmarshal(response, &a); err != nil {
		return false, fmt.Errorf("failed to unmarshal fill blank answer: %w", err)
	}

	for key, def := range c.Blanks {
		submitted, ok := a.Blanks[key]
		if !ok {
			return false, nil
		}
		if !matchesAccepted(submitted, def.AcceptedAnswers) {
			return false, nil
		}
	}

	return true, nil
}

func matchesAccepted(submitted string, accepted []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(submitted))
	for _, candidate := range accepted {
		if normalized == strings.ToLower(strings.TrimSpace(candidate)) {
			return true
		}
	}
	return false
}

func stringSetEqual(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}

	if len(setA) != len(setB) {
		return false
	}
	for v := range setA {
		if _, ok := setB[v]; !ok {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
