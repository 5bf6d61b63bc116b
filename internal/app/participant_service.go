package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/leaderboard"
)

// ParticipantService contains the member-facing use cases of a running session.
type ParticipantService struct {
	sessions SessionRepository
	members  MemberRepository
	boards   BoardCache
	log      logrus.FieldLogger
	now      func() time.Time
}

// ParticipantOption customizes a ParticipantService.
type ParticipantOption func(*ParticipantService)

func WithParticipantLogger(log logrus.FieldLogger) ParticipantOption {
	return func(s *ParticipantService) { s.log = log }
}

func NewParticipantService(sessions SessionRepository, members MemberRepository, boards BoardCache, opts ...ParticipantOption) *ParticipantService {
	if boards == nil {
		boards = noBoardCache{}
	}
	s := &ParticipantService{
		sessions: sessions,
		members:  members,
		boards:   boards,
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewParticipantServiceWithClock is test-only for deterministic response times.
func NewParticipantServiceWithClock(sessions SessionRepository, members MemberRepository, now func() time.Time) *ParticipantService {
	s := NewParticipantService(sessions, members, nil)
	s.now = now
	return s
}

// Join registers a member in a session that accepts joins. Sessions with member
// groups place members without a group in the first one.
func (s *ParticipantService) Join(ctx context.Context, quizName, memberName, groupName string) (domain.Member, error) {
	session, err := s.joinable(ctx, quizName)
	if err != nil {
		return domain.Member{}, err
	}
	if len(session.MemberGroups) > 0 {
		if groupName == "" {
			groupName = session.MemberGroups[0].Name
		} else if !session.HasGroup(groupName) {
			return domain.Member{}, domain.NotFound("member group", groupName)
		}
	}

	return s.members.AddMember(ctx, domain.Member{
		Name:        memberName,
		GroupName:   groupName,
		SessionName: session.Name,
		Responses:   domain.EmptyResponses(len(session.Questions)),
		JoinedAt:    s.now(),
	})
}

// Rejoin readmits a member that joined the session before, e.g. after its
// connection dropped. Its group and recorded responses are kept.
func (s *ParticipantService) Rejoin(ctx context.Context, quizName, memberName string) (domain.Member, error) {
	session, err := s.joinable(ctx, quizName)
	if err != nil {
		return domain.Member{}, err
	}
	return s.members.FindMember(ctx, session.Name, memberName)
}

func (s *ParticipantService) joinable(ctx context.Context, quizName string) (domain.QuizSession, error) {
	session, err := s.sessions.FindSessionByName(ctx, quizName)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if session.State != domain.StateActive && session.State != domain.StateRunning {
		return domain.QuizSession{}, domain.InvalidState("quiz session", session.Name, "not accepting members")
	}
	return session, nil
}

// Respond records a member's answer to the running question and returns its verdict.
// The response time is measured from the question start.
func (s *ParticipantService) Respond(ctx context.Context, quizName, memberName string, value domain.ResponseValue, confidence int) (leaderboard.Verdict, error) {
	session, err := s.sessions.FindSessionByName(ctx, quizName)
	if err != nil {
		return leaderboard.Incorrect, err
	}
	question, ok := session.CurrentQuestion()
	if !ok || session.CurrentStartTimestamp == domain.NoTimestamp {
		return leaderboard.Incorrect, domain.InvalidState("quiz session", session.Name, "no running question")
	}
	member, err := s.members.FindMember(ctx, session.Name, memberName)
	if err != nil {
		return leaderboard.Incorrect, err
	}

	index := session.CurrentQuestionIndex
	response := domain.Response{Confidence: domain.NoConfidence}
	if index < len(member.Responses) {
		response = member.Responses[index]
	}
	if response.Answered() {
		return leaderboard.Incorrect, domain.Duplicate("response", memberName)
	}

	response.Value = value
	response.ResponseTime = max(s.now().UnixMilli()-session.CurrentStartTimestamp, 1)
	response.Confidence = clampConfidence(confidence)

	verdict, err := leaderboard.Evaluate(response, question)
	if err != nil {
		return leaderboard.Incorrect, err
	}
	if err := s.members.UpdateResponse(ctx, session.Name, member.Name, index, response); err != nil {
		return leaderboard.Incorrect, err
	}
	if err := s.boards.Invalidate(ctx, session.Name); err != nil {
		s.log.WithError(err).WithField("quiz", session.Name).Warn("leaderboard cache invalidation failed")
	}
	return verdict, nil
}

// ConfirmReading marks that a member has read the current question.
func (s *ParticipantService) ConfirmReading(ctx context.Context, quizName, memberName string) error {
	session, err := s.sessions.FindSessionByName(ctx, quizName)
	if err != nil {
		return err
	}
	if !session.ReadingConfirmationRequested || session.CurrentQuestionIndex < 0 {
		return domain.InvalidState("quiz session", session.Name, "no reading confirmation requested")
	}
	member, err := s.members.FindMember(ctx, session.Name, memberName)
	if err != nil {
		return err
	}

	index := session.CurrentQuestionIndex
	response := domain.Response{Confidence: domain.NoConfidence}
	if index < len(member.Responses) {
		response = member.Responses[index]
	}
	response.ReadingConfirmation = true
	return s.members.UpdateResponse(ctx, session.Name, member.Name, index, response)
}

func clampConfidence(c int) int {
	switch {
	case c < 0:
		return domain.NoConfidence
	case c > 100:
		return 100
	default:
		return c
	}
}
