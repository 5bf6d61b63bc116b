package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/leaderboard"
	"quiz-session-service/internal/metrics"
)

// LeaderboardService builds ranked results from the stored session and member state.
type LeaderboardService struct {
	sessions SessionRepository
	members  MemberRepository
	builder  *leaderboard.Builder
	boards   BoardCache
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewLeaderboardService(sessions SessionRepository, members MemberRepository, strategy leaderboard.Strategy, boards BoardCache, m *metrics.Metrics) *LeaderboardService {
	if boards == nil {
		boards = noBoardCache{}
	}
	return &LeaderboardService{
		sessions: sessions,
		members:  members,
		builder:  leaderboard.NewBuilder(strategy),
		boards:   boards,
		metrics:  m,
		now:      time.Now,
	}
}

// Leaderboard ranks the members of a session over one question, or over all of them
// when questionIndex is leaderboard.AllQuestions.
func (s *LeaderboardService) Leaderboard(ctx context.Context, quizName string, questionIndex int) (domain.Leaderboard, error) {
	if questionIndex < 0 {
		questionIndex = leaderboard.AllQuestions
	}
	return s.boards.GetBoard(ctx, quizName, questionIndex, func(ctx context.Context) (domain.Leaderboard, error) {
		return s.build(ctx, quizName, questionIndex)
	})
}

func (s *LeaderboardService) build(ctx context.Context, quizName string, questionIndex int) (lb domain.Leaderboard, err error) {
	start := time.Now()
	defer func() { s.metrics.LeaderboardBuilt(start, err) }()

	session, err := s.sessions.FindSessionByName(ctx, quizName)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	members, err := s.members.FindMembersOfSession(ctx, session.Name)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	if questionIndex >= len(session.Questions) {
		questionIndex = leaderboard.AllQuestions
	}
	result, err := s.builder.Build(session, members, questionIndex)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	all, err := s.builder.AllEntries(session, members)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	return domain.Leaderboard{
		QuizName:         session.Name,
		QuestionIndex:    questionIndex,
		Members:          leaderboard.ToRankedList(result.Correct),
		PartiallyCorrect: leaderboard.ToRankedList(result.PartiallyCorrect),
		Groups:           leaderboard.ToGroupList(result.Groups),
		AllEntries:       all,
		UpdatedAt:        s.now(),
	}, nil
}
