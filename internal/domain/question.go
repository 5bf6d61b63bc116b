package domain

import (
	"encoding/json"
	"fmt"
)

// QuestionType is the wire tag of a question.
type QuestionType string

const (
	SingleChoice          QuestionType = "SingleChoiceQuestion"
	YesNoSingleChoice     QuestionType = "YesNoSingleChoiceQuestion"
	TrueFalseSingleChoice QuestionType = "TrueFalseSingleChoiceQuestion"
	ABCDSingleChoice      QuestionType = "ABCDSingleChoiceQuestion"
	MultipleChoice        QuestionType = "MultipleChoiceQuestion"
	Survey                QuestionType = "SurveyQuestion"
	Ranged                QuestionType = "RangedQuestion"
	FreeText              QuestionType = "FreeTextQuestion"
)

// Scored reports whether answers to this type count towards the ranking.
func (t QuestionType) Scored() bool {
	return t != Survey && t != ABCDSingleChoice
}

// Question is the closed set of question kinds: *ChoiceQuestion, *RangedQuestion and *FreeTextQuestion.
type Question interface {
	Type() QuestionType
	TimerSeconds() int
	isQuestion()
}

// QuestionBase holds the fields shared by every question kind.
type QuestionBase struct {
	Text  string `json:"questionText"`
	Timer int    `json:"timer"` // seconds, <= 0 means untimed
}

func (b QuestionBase) TimerSeconds() int { return b.Timer }

func (QuestionBase) isQuestion() {}

// ChoiceOption is one answer option of a choice question.
type ChoiceOption struct {
	Text      string `json:"answerText"`
	IsCorrect bool   `json:"isCorrect"`
}

// ChoiceQuestion covers single-choice, yes/no, true/false, ABCD, multiple-choice and survey questions.
type ChoiceQuestion struct {
	QuestionBase
	Kind          QuestionType   `json:"type"`
	AnswerOptions []ChoiceOption `json:"answerOptionList"`
}

func (q *ChoiceQuestion) Type() QuestionType { return q.Kind }

// RangedQuestion accepts a number; an exact hit is correct, a hit inside the range is partial.
type RangedQuestion struct {
	QuestionBase
	RangeMin     float64 `json:"rangeMin"`
	RangeMax     float64 `json:"rangeMax"`
	CorrectValue float64 `json:"correctValue"`
}

func (*RangedQuestion) Type() QuestionType { return Ranged }

// FreeTextOption is the reference answer of a free-text question and its matching rules.
type FreeTextOption struct {
	AnswerText     string `json:"answerText"`
	CaseSensitive  bool   `json:"configCaseSensitive"`
	TrimWhitespace bool   `json:"configTrimWhitespaces"`
	UseKeywords    bool   `json:"configUseKeywords"`
	UsePunctuation bool   `json:"configUsePunctuation"`
}

// FreeTextQuestion is matched against a single reference answer.
type FreeTextQuestion struct {
	QuestionBase
	Answer FreeTextOption `json:"answer"`
}

func (*FreeTextQuestion) Type() QuestionType { return FreeText }

// QuestionList is an ordered list of questions stored with a "type" tag per entry.
type QuestionList []Question

type questionEnvelope struct {
	Type          QuestionType    `json:"type"`
	Text          string          `json:"questionText"`
	Timer         int             `json:"timer"`
	AnswerOptions []ChoiceOption  `json:"answerOptionList,omitempty"`
	RangeMin      *float64        `json:"rangeMin,omitempty"`
	RangeMax      *float64        `json:"rangeMax,omitempty"`
	CorrectValue  *float64        `json:"correctValue,omitempty"`
	Answer        *FreeTextOption `json:"answer,omitempty"`
}

func (l QuestionList) MarshalJSON() ([]byte, error) {
	out := make([]questionEnvelope, 0, len(l))
	for i, q := range l {
		switch q := q.(type) {
		case *ChoiceQuestion:
			out = append(out, questionEnvelope{Type: q.Kind, Text: q.Text, Timer: q.Timer, AnswerOptions: q.AnswerOptions})
		case *RangedQuestion:
			out = append(out, questionEnvelope{
				Type: Ranged, Text: q.Text, Timer: q.Timer,
				RangeMin: Ptr(q.RangeMin), RangeMax: Ptr(q.RangeMax), CorrectValue: Ptr(q.CorrectValue),
			})
		case *FreeTextQuestion:
			out = append(out, questionEnvelope{Type: FreeText, Text: q.Text, Timer: q.Timer, Answer: Ptr(q.Answer)})
		default:
			return nil, fmt.Errorf("question %d: %w", i, UnsupportedType(questionTypeOf(q)))
		}
	}
	return json.Marshal(out)
}

func (l *QuestionList) UnmarshalJSON(data []byte) error {
	var raw []questionEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list := make(QuestionList, 0, len(raw))
	for i, env := range raw {
		base := QuestionBase{Text: env.Text, Timer: env.Timer}
		switch env.Type {
		case SingleChoice, YesNoSingleChoice, TrueFalseSingleChoice, ABCDSingleChoice, MultipleChoice, Survey:
			list = append(list, &ChoiceQuestion{QuestionBase: base, Kind: env.Type, AnswerOptions: env.AnswerOptions})
		case Ranged:
			q := &RangedQuestion{QuestionBase: base}
			if env.RangeMin != nil {
				q.RangeMin = *env.RangeMin
			}
			if env.RangeMax != nil {
				q.RangeMax = *env.RangeMax
			}
			if env.CorrectValue != nil {
				q.CorrectValue = *env.CorrectValue
			}
			list = append(list, q)
		case FreeText:
			q := &FreeTextQuestion{QuestionBase: base}
			if env.Answer != nil {
				q.Answer = *env.Answer
			}
			list = append(list, q)
		default:
			return fmt.Errorf("question %d: %w", i, UnsupportedType(env.Type))
		}
	}
	*l = list
	return nil
}

func questionTypeOf(q Question) QuestionType {
	if q == nil {
		return ""
	}
	return q.Type()
}
