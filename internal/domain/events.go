package domain

// Status reports whether the step an event describes succeeded.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Step names the lifecycle or timer transition an event announces.
type Step string

const (
	StepSetInactive                  Step = "SET_INACTIVE"
	StepClosed                       Step = "CLOSED"
	StepNextQuestion                 Step = "NEXT_QUESTION"
	StepReadingConfirmationRequested Step = "READING_CONFIRMATION_REQUESTED"
	StepStart                        Step = "START"
	StepCountdown                    Step = "COUNTDOWN"
	StepStop                         Step = "STOP"
	StepReset                        Step = "RESET"
)

// Event is the message published on the bus.
type Event struct {
	Status  Status `json:"status"`
	Step    Step   `json:"step"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent returns a successful event for step.
func NewEvent(step Step, payload any) Event {
	return Event{Status: StatusSuccess, Step: step, Payload: payload}
}

type SetInactivePayload struct {
	QuizName string `json:"quizName"`
}

type NextQuestionPayload struct {
	NextQuestionIndex int `json:"nextQuestionIndex"`
}

type CountdownPayload struct {
	Value int `json:"value"`
}

// Topic names and the routing pattern used for fan-out.
const (
	GlobalTopic    = "global"
	RoutingPattern = ".*"
	topicPrefix    = "quiz_"
)

// QuizTopic returns the per-session topic for a quiz name.
func QuizTopic(quizName string) string {
	return topicPrefix + SessionKey(quizName)
}

