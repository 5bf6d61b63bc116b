package leaderboard

import (
	"strings"

	"quiz-session-service/internal/domain"
)

// Verdict is the three-valued correctness of a single response.
type Verdict int

const (
	Incorrect Verdict = iota - 1
	Partial
	Correct
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case Partial:
		return "partial"
	default:
		return "incorrect"
	}
}

// Evaluate checks a response against the question it was given for.
// Unknown question types yield an ErrUnsupportedType error.
func Evaluate(response domain.Response, question domain.Question) (Verdict, error) {
	switch q := question.(type) {
	case *domain.ChoiceQuestion:
		switch q.Kind {
		case domain.SingleChoice, domain.YesNoSingleChoice, domain.TrueFalseSingleChoice:
			return evaluateSingleChoice(response.Value, q), nil
		case domain.MultipleChoice:
			return evaluateMultipleChoice(response.Value, q), nil
		case domain.ABCDSingleChoice, domain.Survey:
			return Correct, nil
		default:
			return Incorrect, domain.UnsupportedType(q.Kind)
		}
	case *domain.RangedQuestion:
		return evaluateRanged(response.Value, q), nil
	case *domain.FreeTextQuestion:
		return evaluateFreeText(response.Value, q), nil
	case nil:
		return Incorrect, domain.UnsupportedType("")
	default:
		return Incorrect, domain.UnsupportedType(q.Type())
	}
}

func evaluateSingleChoice(value domain.ResponseValue, q *domain.ChoiceQuestion) Verdict {
	if len(value.Choices) == 0 {
		return Incorrect
	}
	idx := value.Choices[0]
	if idx < 0 || idx >= len(q.AnswerOptions) || !q.AnswerOptions[idx].IsCorrect {
		return Incorrect
	}
	return Correct
}

// evaluateMultipleChoice is correct only for the exact set of correct options.
// Any wrong pick next to at least one right pick is partial; a right subset
// without wrong picks is incorrect.
func evaluateMultipleChoice(value domain.ResponseValue, q *domain.ChoiceQuestion) Verdict {
	selected := make(map[int]struct{}, len(value.Choices))
	for _, idx := range value.Choices {
		selected[idx] = struct{}{}
	}

	var rightPicks, wrongPicks, missed int
	for idx := range selected {
		if idx >= 0 && idx < len(q.AnswerOptions) && q.AnswerOptions[idx].IsCorrect {
			rightPicks++
		} else {
			wrongPicks++
		}
	}
	for idx, opt := range q.AnswerOptions {
		if _, ok := selected[idx]; opt.IsCorrect && !ok {
			missed++
		}
	}

	switch {
	case rightPicks > 0 && wrongPicks == 0 && missed == 0:
		return Correct
	case rightPicks > 0 && wrongPicks > 0:
		return Partial
	default:
		return Incorrect
	}
}

func evaluateRanged(value domain.ResponseValue, q *domain.RangedQuestion) Verdict {
	if value.Number == nil {
		return Incorrect
	}
	n := *value.Number
	switch {
	case n == q.CorrectValue:
		return Correct
	case n >= q.RangeMin && n <= q.RangeMax:
		return Partial
	default:
		return Incorrect
	}
}

var punctuation = strings.NewReplacer(",", "", ":", "", "(", "", ")", "", "[", "", "]", "", ".", "", "*", "", "?", "")

func evaluateFreeText(value domain.ResponseValue, q *domain.FreeTextQuestion) Verdict {
	if value.Text == nil {
		return Incorrect
	}
	ref, got := q.Answer.AnswerText, *value.Text
	if !q.Answer.CaseSensitive {
		ref, got = strings.ToLower(ref), strings.ToLower(got)
	}

	// Whitespace-insensitive matching ignores the keyword and punctuation settings.
	if q.Answer.TrimWhitespace {
		ref, got = strings.ReplaceAll(ref, " ", ""), strings.ReplaceAll(got, " ", "")
		return verdictOf(ref == got)
	}

	if !q.Answer.UsePunctuation {
		ref, got = punctuation.Replace(ref), punctuation.Replace(got)
	}
	if !q.Answer.UseKeywords {
		return verdictOf(ref == got)
	}
	for _, keyword := range strings.Fields(ref) {
		if !strings.Contains(got, keyword) {
			return Incorrect
		}
	}
	return Correct
}

func verdictOf(ok bool) Verdict {
	if ok {
		return Correct
	}
	return Incorrect
}
