package app

import (
	"context"

	"quiz-session-service/internal/domain"
)

// SessionRepository abstracts where quiz session documents live (in-memory, Postgres).
// Names are matched case-insensitively; absent sessions yield domain.ErrNotFound.
type SessionRepository interface {
	AddSession(ctx context.Context, session domain.QuizSession) (domain.QuizSession, error)
	FindSessionByName(ctx context.Context, name string) (domain.QuizSession, error)
	UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
}

// MemberRepository stores the participants of every session.
type MemberRepository interface {
	AddMember(ctx context.Context, member domain.Member) (domain.Member, error)
	FindMember(ctx context.Context, sessionName, memberName string) (domain.Member, error)
	FindMembersOfSession(ctx context.Context, sessionName string) ([]domain.Member, error)
	UpdateResponse(ctx context.Context, sessionName, memberName string, index int, response domain.Response) error
	// ClearResponsesOfMembers replaces every member's responses with questionCount empty slots.
	ClearResponsesOfMembers(ctx context.Context, sessionName string, questionCount int) error
	RemoveMembersOfSession(ctx context.Context, sessionName string) error
}

// MessageBus is the topic/publish contract the registry needs from a broker.
type MessageBus interface {
	EnsureTopic(ctx context.Context, topic string) error
	// DeleteTopic is a no-op for unknown topics.
	DeleteTopic(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic, routingPattern string, event domain.Event) error
}

// BindingProber reports how many consumers are bound to a topic.
type BindingProber interface {
	Bindings(ctx context.Context, topic string) (int, error)
}

// BoardCache memoizes built leaderboards per quiz and question index.
type BoardCache interface {
	GetBoard(ctx context.Context, quizName string, questionIndex int, load func(context.Context) (domain.Leaderboard, error)) (domain.Leaderboard, error)
	Invalidate(ctx context.Context, quizName string) error
}

type noBoardCache struct{}

func (noBoardCache) GetBoard(ctx context.Context, _ string, _ int, load func(context.Context) (domain.Leaderboard, error)) (domain.Leaderboard, error) {
	return load(ctx)
}

func (noBoardCache) Invalidate(context.Context, string) error { return nil }
