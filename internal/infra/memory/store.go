package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// Store is an in-memory implementation of app.SessionRepository and app.MemberRepository.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.QuizSession         // by session key
	members  map[string]map[string]*domain.Member // by session key, then member name
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.QuizSession),
		members:  make(map[string]map[string]*domain.Member),
	}
}

func (s *Store) AddSession(_ context.Context, session domain.QuizSession) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SessionKey(session.Name)
	if _, ok := s.sessions[key]; ok {
		return domain.QuizSession{}, domain.Duplicate("quiz session", session.Name)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	s.sessions[key] = session
	return session, nil
}

func (s *Store) FindSessionByName(_ context.Context, name string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[domain.SessionKey(name)]
	if !ok {
		return domain.QuizSession{}, domain.NotFound("quiz session", name)
	}
	return cloneSession(session), nil
}

func (s *Store) UpdateSession(_ context.Context, id string, update domain.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, session := range s.sessions {
		if session.ID == id {
			update.Apply(&session)
			s.sessions[key] = session
			return nil
		}
	}
	return domain.NotFound("quiz session", id)
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, session := range s.sessions {
		if session.ID == id {
			delete(s.sessions, key)
			return nil
		}
	}
	return domain.NotFound("quiz session", id)
}

func (s *Store) AddMember(_ context.Context, member domain.Member) (domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SessionKey(member.SessionName)
	byName, ok := s.members[key]
	if !ok {
		byName = make(map[string]*domain.Member)
		s.members[key] = byName
	}
	if _, ok := byName[member.Name]; ok {
		return domain.Member{}, domain.Duplicate("member", member.Name)
	}
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	stored := cloneMember(member)
	byName[member.Name] = &stored
	return member, nil
}

func (s *Store) FindMember(_ context.Context, sessionName, memberName string) (domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[domain.SessionKey(sessionName)][memberName]
	if !ok {
		return domain.Member{}, domain.NotFound("member", memberName)
	}
	return cloneMember(*member), nil
}

// FindMembersOfSession returns the members ordered by join time, then name.
func (s *Store) FindMembersOfSession(_ context.Context, sessionName string) ([]domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.members[domain.SessionKey(sessionName)]
	out := make([]domain.Member, 0, len(byName))
	for _, m := range byName {
		out = append(out, cloneMember(*m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) UpdateResponse(_ context.Context, sessionName, memberName string, index int, response domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[domain.SessionKey(sessionName)][memberName]
	if !ok {
		return domain.NotFound("member", memberName)
	}
	if index < 0 {
		return domain.InvalidState("member", memberName, "negative response index")
	}
	if index >= len(member.Responses) {
		member.Responses = append(member.Responses, domain.EmptyResponses(index+1-len(member.Responses))...)
	}
	member.Responses[index] = cloneResponse(response)
	return nil
}

func (s *Store) ClearResponsesOfMembers(_ context.Context, sessionName string, questionCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, member := range s.members[domain.SessionKey(sessionName)] {
		member.Responses = domain.EmptyResponses(questionCount)
	}
	return nil
}

func (s *Store) RemoveMembersOfSession(_ context.Context, sessionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, domain.SessionKey(sessionName))
	return nil
}

func cloneSession(s domain.QuizSession) domain.QuizSession {
	s.Questions = append(domain.QuestionList(nil), s.Questions...)
	s.MemberGroups = append([]domain.MemberGroup(nil), s.MemberGroups...)
	return s
}

func cloneMember(m domain.Member) domain.Member {
	responses := make([]domain.Response, len(m.Responses))
	for i, r := range m.Responses {
		responses[i] = cloneResponse(r)
	}
	m.Responses = responses
	return m
}

func cloneResponse(r domain.Response) domain.Response {
	r.Value.Choices = append([]int(nil), r.Value.Choices...)
	return r
}
