package domain

import (
	"strings"
	"time"
)

// QuizState is the persisted lifecycle state of a quiz session.
type QuizState string

const (
	StateInactive QuizState = "INACTIVE"
	StateActive   QuizState = "ACTIVE"
	StateRunning  QuizState = "RUNNING"
	StateFinished QuizState = "FINISHED"
)

// NoQuestion and NoTimestamp mark an unstarted session and a stopped countdown.
const (
	NoQuestion  = -1
	NoTimestamp = int64(-1)
)

// QuizSession is one run of a quiz, identified by a case-insensitive name.
type QuizSession struct {
	ID                           string        `json:"id"`
	Name                         string        `json:"name"`
	State                        QuizState     `json:"state"`
	CurrentQuestionIndex         int           `json:"currentQuestionIndex"`
	CurrentStartTimestamp        int64         `json:"currentStartTimestamp"`
	ReadingConfirmationRequested bool          `json:"readingConfirmationRequested"`
	Questions                    QuestionList  `json:"questionList"`
	MemberGroups                 []MemberGroup `json:"memberGroups"`
}

// NewQuizSession returns an inactive session positioned before its first question.
func NewQuizSession(name string, questions QuestionList, groups ...string) QuizSession {
	session := QuizSession{
		Name:                  strings.TrimSpace(name),
		State:                 StateInactive,
		CurrentQuestionIndex:  NoQuestion,
		CurrentStartTimestamp: NoTimestamp,
		Questions:             questions,
	}
	for _, g := range groups {
		session.MemberGroups = append(session.MemberGroups, MemberGroup{Name: g})
	}
	return session
}

// CurrentQuestion returns the question at the current index, if any.
func (s QuizSession) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return nil, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// HasGroup reports whether name is one of the configured member groups.
func (s QuizSession) HasGroup(name string) bool {
	for _, g := range s.MemberGroups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// SessionKey normalizes a session name for case-insensitive lookups.
func SessionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MemberGroup is a named partition of the members of a session.
type MemberGroup struct {
	Name string `json:"name"`
}

// SessionUpdate lists the persisted fields a registry operation changes; nil fields are left alone.
type SessionUpdate struct {
	State                        *QuizState
	CurrentQuestionIndex         *int
	CurrentStartTimestamp        *int64
	ReadingConfirmationRequested *bool
}

// Apply copies the set fields onto s.
func (u SessionUpdate) Apply(s *QuizSession) {
	if u.State != nil {
		s.State = *u.State
	}
	if u.CurrentQuestionIndex != nil {
		s.CurrentQuestionIndex = *u.CurrentQuestionIndex
	}
	if u.CurrentStartTimestamp != nil {
		s.CurrentStartTimestamp = *u.CurrentStartTimestamp
	}
	if u.ReadingConfirmationRequested != nil {
		s.ReadingConfirmationRequested = *u.ReadingConfirmationRequested
	}
}

// Ptr returns a pointer to v, for building a SessionUpdate.
func Ptr[T any](v T) *T {
	return &v
}

// Member is a participant of one session.
type Member struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	GroupName   string     `json:"groupName"`
	SessionName string     `json:"currentQuizName"`
	Responses   []Response `json:"responses"`
	JoinedAt    time.Time  `json:"joinedAt"`
}

// EmptyResponses returns n unanswered response slots.
func EmptyResponses(n int) []Response {
	responses := make([]Response, n)
	for i := range responses {
		responses[i] = Response{Confidence: NoConfidence}
	}
	return responses
}

// NoConfidence marks a response without a confidence value.
const NoConfidence = -1

// Response is a member's answer to the question at the same index.
type Response struct {
	Value               ResponseValue `json:"value"`
	ResponseTime        int64         `json:"responseTime"` // ms, 0 = not answered
	Confidence          int           `json:"confidence"`
	ReadingConfirmation bool          `json:"readingConfirmation"`
}

// Answered reports whether a value has been submitted.
func (r Response) Answered() bool {
	return r.ResponseTime > 0 || !r.Value.IsEmpty()
}

// ResponseValue holds the submitted value; which field is set depends on the question type.
type ResponseValue struct {
	Choices []int    `json:"choices,omitempty"`
	Number  *float64 `json:"number,omitempty"`
	Text    *string  `json:"text,omitempty"`
}

func (v ResponseValue) IsEmpty() bool {
	return len(v.Choices) == 0 && v.Number == nil && v.Text == nil
}

// LeaderboardEntry is one ranked row; it is derived and never persisted.
type LeaderboardEntry struct {
	Name             string  `json:"name"`
	ResponseTime     int64   `json:"responseTime"`
	CorrectQuestions []int   `json:"correctQuestions"`
	ConfidenceValue  float64 `json:"confidenceValue"`
	Score            float64 `json:"score"`
}

// GroupLeaderboardEntry aggregates the correct answers of one member group.
type GroupLeaderboardEntry struct {
	Name             string  `json:"name"`
	CorrectQuestions []int   `json:"correctQuestions"`
	ResponseTime     int64   `json:"responseTime"`
	Score            float64 `json:"score"`
	MemberAmount     int     `json:"memberAmount"`
}

// Leaderboard captures the ranked results of a session over a question range.
type Leaderboard struct {
	QuizName         string                  `json:"quizName"`
	QuestionIndex    int                     `json:"questionIndex"`
	Members          []LeaderboardEntry      `json:"members"`
	PartiallyCorrect []LeaderboardEntry      `json:"partiallyCorrect"`
	Groups           []GroupLeaderboardEntry `json:"groups"`
	AllEntries       []LeaderboardEntry      `json:"allEntries"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}
