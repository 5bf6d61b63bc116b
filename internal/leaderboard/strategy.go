package leaderboard

import (
	"fmt"
	"math"
	"time"

	"quiz-session-service/internal/domain"
)

// Algorithm names a scoring strategy in configuration.
type Algorithm string

const (
	TimeBased  Algorithm = "time-based"
	PointBased Algorithm = "point-based"
)

// Strategy turns correctness and response time into a score contribution.
type Strategy interface {
	ScoreForCorrect(responseTimeMs int64) float64
	ScoreForPartiallyCorrect(responseTimeMs int64) float64
	// ScoreForGroup runs after aggregation when more than one group competes
	// and may adjust the group scores in place.
	ScoreForGroup(ctx GroupContext)
}

// GroupContext exposes the running tallies of one build to ScoreForGroup.
type GroupContext struct {
	Groups           map[string]*GroupTally
	Correct          map[string]*Tally
	PartiallyCorrect map[string]*Tally
	Session          domain.QuizSession
}

// StrategyConfig carries the tunables of both built-in strategies.
type StrategyConfig struct {
	Algorithm     Algorithm
	BasePoints    float64
	HalfLife      time.Duration
	CorrectPoints float64
	PartialPoints float64
}

// NewStrategy selects the strategy named in cfg. An empty algorithm selects the time-based one.
func NewStrategy(cfg StrategyConfig) (Strategy, error) {
	switch cfg.Algorithm {
	case TimeBased, "":
		return NewTimeBasedStrategy(cfg.BasePoints, cfg.HalfLife), nil
	case PointBased:
		return NewPointBasedStrategy(cfg.CorrectPoints, cfg.PartialPoints), nil
	default:
		return nil, fmt.Errorf("unknown leaderboard algorithm %q", cfg.Algorithm)
	}
}

type noGroupScoring struct{}

func (noGroupScoring) ScoreForGroup(GroupContext) {}

// TimeBasedStrategy awards base * halfLife / (halfLife + t): full points for an instant
// answer, half of them after halfLife. Partially correct answers earn half of that.
type TimeBasedStrategy struct {
	noGroupScoring
	base     float64
	halfLife float64
}

func NewTimeBasedStrategy(basePoints float64, halfLife time.Duration) *TimeBasedStrategy {
	if basePoints <= 0 {
		basePoints = 100
	}
	if halfLife <= 0 {
		halfLife = 10 * time.Second
	}
	return &TimeBasedStrategy{base: basePoints, halfLife: float64(halfLife.Milliseconds())}
}

func (s *TimeBasedStrategy) ScoreForCorrect(responseTimeMs int64) float64 {
	t := math.Max(0, float64(responseTimeMs))
	return s.base * s.halfLife / (s.halfLife + t)
}

func (s *TimeBasedStrategy) ScoreForPartiallyCorrect(responseTimeMs int64) float64 {
	return s.ScoreForCorrect(responseTimeMs) / 2
}

// PointBasedStrategy awards fixed points per outcome.
type PointBasedStrategy struct {
	noGroupScoring
	correct float64
	partial float64
}

func NewPointBasedStrategy(correct, partial float64) *PointBasedStrategy {
	if correct <= 0 {
		correct = 1
	}
	if partial < 0 || partial > correct {
		partial = correct / 2
	}
	return &PointBasedStrategy{correct: correct, partial: partial}
}

func (s *PointBasedStrategy) ScoreForCorrect(int64) float64 { return s.correct }

func (s *PointBasedStrategy) ScoreForPartiallyCorrect(int64) float64 { return s.partial }
