package leaderboard

import (
	"sort"

	"quiz-session-service/internal/domain"
)

// AllQuestions asks Build for the whole question list.
const AllQuestions = -1

const defaultGroup = "Default"

// Tally is the running result of one member.
type Tally struct {
	ResponseTime     int64
	CorrectQuestions []int
	ConfidenceSum    float64
	Score            float64
}

func (t *Tally) add(index int, r domain.Response, score float64) {
	t.CorrectQuestions = append(t.CorrectQuestions, index)
	t.ResponseTime += r.ResponseTime
	if r.Confidence > 0 {
		t.ConfidenceSum += float64(r.Confidence)
	}
	t.Score += score
}

// GroupTally is the running result of one member group.
type GroupTally struct {
	CorrectQuestions []int
	ResponseTime     int64
	Score            float64
	MemberAmount     int
}

// Result holds the three running maps of one build, keyed by member or group name.
type Result struct {
	Correct          map[string]*Tally
	PartiallyCorrect map[string]*Tally
	Groups           map[string]*GroupTally
}

// Builder aggregates member responses into leaderboard tallies.
type Builder struct {
	strategy Strategy
}

func NewBuilder(strategy Strategy) *Builder {
	return &Builder{strategy: strategy}
}

// Build scores the members of session over a single question, or over every question when
// questionIndex is AllQuestions or out of bounds. Survey and ABCD questions are skipped.
// A member with an incorrect answer anywhere in the range drops out of both member maps.
func (b *Builder) Build(session domain.QuizSession, members []domain.Member, questionIndex int) (Result, error) {
	start, end := questionRange(len(session.Questions), questionIndex)
	result := Result{
		Correct:          make(map[string]*Tally),
		PartiallyCorrect: make(map[string]*Tally),
		Groups:           make(map[string]*GroupTally),
	}

	groups, order := partition(session, members)
	for _, name := range order {
		group := &GroupTally{MemberAmount: len(groups[name])}
		result.Groups[name] = group

		for _, member := range groups[name] {
			if err := b.scoreMember(session, member, start, end, group, result); err != nil {
				return Result{}, err
			}
		}
	}

	if len(result.Groups) > 1 {
		b.strategy.ScoreForGroup(GroupContext{
			Groups:           result.Groups,
			Correct:          result.Correct,
			PartiallyCorrect: result.PartiallyCorrect,
			Session:          session,
		})
	}
	return result, nil
}

func (b *Builder) scoreMember(session domain.QuizSession, member domain.Member, start, end int, group *GroupTally, result Result) error {
	for i := start; i < end; i++ {
		question := session.Questions[i]
		if question != nil && !question.Type().Scored() {
			continue
		}
		response := responseAt(member, i)
		verdict, err := Evaluate(response, question)
		if err != nil {
			return err
		}

		switch verdict {
		case Correct:
			score := b.strategy.ScoreForCorrect(response.ResponseTime)
			tallyFor(result.Correct, member.Name).add(i, response, score)
			group.CorrectQuestions = append(group.CorrectQuestions, i)
			group.ResponseTime += response.ResponseTime
			group.Score += score
		case Partial:
			score := b.strategy.ScoreForPartiallyCorrect(response.ResponseTime)
			tallyFor(result.PartiallyCorrect, member.Name).add(i, response, score)
		default:
			delete(result.Correct, member.Name)
			delete(result.PartiallyCorrect, member.Name)
			return nil
		}
	}
	return nil
}

// AllEntries counts the correct answers of every member over all scored questions,
// without dropping members for incorrect answers.
func (b *Builder) AllEntries(session domain.QuizSession, members []domain.Member) ([]domain.LeaderboardEntry, error) {
	tallies := make(map[string]*Tally, len(members))
	for _, member := range members {
		tally := tallyFor(tallies, member.Name)
		for i, question := range session.Questions {
			if question != nil && !question.Type().Scored() {
				continue
			}
			response := responseAt(member, i)
			verdict, err := Evaluate(response, question)
			if err != nil {
				return nil, err
			}
			if verdict == Correct {
				tally.add(i, response, b.strategy.ScoreForCorrect(response.ResponseTime))
			}
		}
	}
	return ToRankedList(tallies), nil
}

// ToRankedList converts member tallies to entries ordered by score, correct answers,
// total response time and name.
func ToRankedList(tallies map[string]*Tally) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	for name, t := range tallies {
		entry := domain.LeaderboardEntry{
			Name:             name,
			ResponseTime:     t.ResponseTime,
			CorrectQuestions: append([]int{}, t.CorrectQuestions...),
			Score:            t.Score,
		}
		if entry.ResponseTime == 0 {
			entry.ResponseTime = -1
		}
		if n := len(t.CorrectQuestions); n > 0 {
			entry.ConfidenceValue = t.ConfidenceSum / float64(n)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.CorrectQuestions) != len(b.CorrectQuestions) {
			return len(a.CorrectQuestions) > len(b.CorrectQuestions)
		}
		if a.ResponseTime != b.ResponseTime {
			return lessTime(a.ResponseTime, b.ResponseTime)
		}
		return a.Name < b.Name
	})
	return entries
}

// ToGroupList converts group tallies to entries in ranking order.
func ToGroupList(groups map[string]*GroupTally) []domain.GroupLeaderboardEntry {
	entries := make([]domain.GroupLeaderboardEntry, 0, len(groups))
	for name, g := range groups {
		entries = append(entries, domain.GroupLeaderboardEntry{
			Name:             name,
			CorrectQuestions: append([]int{}, g.CorrectQuestions...),
			ResponseTime:     g.ResponseTime,
			Score:            g.Score,
			MemberAmount:     g.MemberAmount,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.CorrectQuestions) != len(b.CorrectQuestions) {
			return len(a.CorrectQuestions) > len(b.CorrectQuestions)
		}
		if a.ResponseTime != b.ResponseTime {
			return a.ResponseTime < b.ResponseTime
		}
		return a.Name < b.Name
	})
	return entries
}

// lessTime orders response times ascending with the -1 sentinel last.
func lessTime(a, b int64) bool {
	if a < 0 {
		return false
	}
	if b < 0 {
		return true
	}
	return a < b
}

func questionRange(count, index int) (int, int) {
	if index < 0 || index >= count {
		return 0, count
	}
	return index, index + 1
}

// partition groups members in the order the session lists its groups; groups only
// known from members follow in order of first appearance.
func partition(session domain.QuizSession, members []domain.Member) (map[string][]domain.Member, []string) {
	groups := make(map[string][]domain.Member)
	order := make([]string, 0, len(session.MemberGroups))
	for _, g := range session.MemberGroups {
		if _, ok := groups[g.Name]; !ok {
			groups[g.Name] = nil
			order = append(order, g.Name)
		}
	}
	for _, m := range members {
		name := m.GroupName
		if name == "" {
			name = defaultGroup
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], m)
	}
	return groups, order
}

func responseAt(member domain.Member, index int) domain.Response {
	if index < len(member.Responses) {
		return member.Responses[index]
	}
	return domain.Response{Confidence: domain.NoConfidence}
}

func tallyFor(tallies map[string]*Tally, name string) *Tally {
	t, ok := tallies[name]
	if !ok {
		t = &Tally{CorrectQuestions: []int{}}
		tallies[name] = t
	}
	return t
}
