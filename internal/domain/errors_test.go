package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKindsMatch(t *testing.T) {
	err := fmt.Errorf("join: %w", NotFound("member group", "green"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	var de *Error
	if !errors.As(err, &de) || de.Entity != "member group" || de.ID != "green" {
		t.Fatalf("expected structured error, got %#v", de)
	}
	if !strings.Contains(err.Error(), `member group "green": not found`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTransportWrapsForeignErrorsOnly(t *testing.T) {
	if Transport("publish", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}

	cause := errors.New("connection refused")
	err := Transport("publish", cause)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("expected transport error wrapping the cause, got %v", err)
	}

	dup := Duplicate("quiz session", "a")
	if got := Transport("add session", dup); got != dup {
		t.Fatalf("domain errors must pass through unchanged")
	}
}

func TestProbeError(t *testing.T) {
	cause := errors.New("timeout")
	err := Probe("quiz_a", cause)
	if !errors.Is(err, ErrProbe) || !errors.Is(err, cause) {
		t.Fatalf("unexpected probe error %v", err)
	}
}

func TestSessionUpdateApply(t *testing.T) {
	s := NewQuizSession("  Quiz-A ", nil)
	if s.Name != "Quiz-A" || SessionKey(" Quiz-A") != "quiz-a" {
		t.Fatalf("unexpected name normalization")
	}
	SessionUpdate{State: Ptr(StateRunning), CurrentQuestionIndex: Ptr(2)}.Apply(&s)
	if s.State != StateRunning || s.CurrentQuestionIndex != 2 || s.CurrentStartTimestamp != NoTimestamp {
		t.Fatalf("unexpected session after update %+v", s)
	}
	if QuizTopic("Quiz-A") != "quiz_quiz-a" {
		t.Fatalf("unexpected topic %q", QuizTopic("Quiz-A"))
	}
}
