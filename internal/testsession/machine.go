// Package testsession drives one assessment attempt:
//
//	Idle -> Loading -> Ready -> Answering -> Submitting -> Completed
//	Loading, Submitting -> Error
//
// A Machine has a single owner. Its state may be read from other goroutines
// (for rendering) while Start or Submit await the network.
package testsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/course"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

type State int

const (
	Idle State = iota
	Loading
	Ready
	Answering
	Submitting
	Completed
	Error
)

var stateNames = [...]string{"Idle", "Loading", "Ready", "Answering", "Submitting", "Completed", "Error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type CourseLoader interface {
	GetCourseDetail(ctx context.Context, courseID string) (course.CourseDetail, error)
}

type AttemptSubmitter interface {
	SubmitAttempt(ctx context.Context, courseID string, answers course.Answers) (course.AttemptResult, error)
}

type Backend interface {
	CourseLoader
	AttemptSubmitter
}

// ErrAbandoned is returned by Start when the load was abandoned mid-flight.
var ErrAbandoned = errors.New("test session abandoned")

// Draft is the in-progress, unsubmitted attempt.
type Draft struct {
	CourseID string
	Answers  course.Answers
	Cursor   int
}

type Machine struct {
	backend Backend
	timeout time.Duration

	mu         sync.Mutex
	state      State
	courseID   string
	detail     *course.CourseDetail
	draft      *Draft
	result     *course.AttemptResult
	err        error
	cancelLoad context.CancelFunc
	gen        uint64
}

type Option func(*Machine)

// WithTimeout bounds each network step.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func New(b Backend, opts ...Option) *Machine {
	m := &Machine{backend: b, timeout: timeouts.Request}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start loads courseID once the entitlement decision allows it. A denied
// decision is returned as AccessDenied without any network call and the
// machine stays Idle.
func (m *Machine) Start(ctx context.Context, courseID string, d entitlement.Decision) error {
	m.mu.Lock()
	if m.state != Idle {
		st := m.state
		m.mu.Unlock()
		return errs.Validation(fmt.Sprintf("cannot start from %s", st))
	}
	if courseID == "" {
		m.mu.Unlock()
		return errs.Validation("course id required")
	}
	if !d.Allowed() {
		m.mu.Unlock()
		return &errs.Error{Code: errs.CodeAccessDenied, Message: d.Reason, Cause: verdictError(d.Verdict)}
	}
	lctx, cancel := context.WithTimeout(ctx, m.timeout)
	m.gen++
	gen := m.gen
	m.state = Loading
	m.courseID = courseID
	m.err = nil
	m.result = nil
	m.cancelLoad = cancel
	m.mu.Unlock()

	detail, err := m.backend.GetCourseDetail(lctx, courseID)
	cancel()
	if err == nil && len(detail.Questions) == 0 {
		err = errs.New(errs.CodeNotFound, "course has no questions")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrAbandoned
	}
	m.cancelLoad = nil
	if err != nil {
		m.fail(err, "could not load the test")
		return m.err
	}
	m.detail = &detail
	m.draft = &Draft{CourseID: courseID, Answers: course.Answers{}, Cursor: 0}
	m.state = Ready
	return nil
}

// fail moves to Error keeping the taxonomy code. Callers hold mu.
func (m *Machine) fail(err error, generic string) {
	m.state = Error
	m.draft = nil
	code := errs.CodeOf(err)
	switch code {
	case errs.CodeAccessDenied:
		m.err = &errs.Error{Code: code, Message: "payment required: " + errs.Message(err), Cause: err}
	case "":
		m.err = errs.Wrap(errs.CodeTransientNetwork, generic, err)
	default:
		m.err = &errs.Error{Code: code, Message: generic + ": " + errs.Message(err), Cause: err}
	}
}

// SelectAnswer records optionIndex for questionID without moving the cursor.
// Unknown questions and out of range options are rejected with no state
// change.
func (m *Machine) SelectAnswer(questionID string, optionIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready && m.state != Answering {
		return errs.Validation(fmt.Sprintf("cannot answer in %s", m.state))
	}
	q, ok := m.question(questionID)
	if !ok {
		return errs.Validation(fmt.Sprintf("question %q is not part of this test", questionID))
	}
	if !q.ValidOption(optionIndex) {
		return errs.Validation(fmt.Sprintf("option %d out of range [0,%d)", optionIndex, len(q.Options)))
	}
	m.draft.Answers[questionID] = optionIndex
	m.state = Answering
	return nil
}

// ClearAnswer removes the answer for questionID, if any.
func (m *Machine) ClearAnswer(questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready && m.state != Answering {
		return errs.Validation(fmt.Sprintf("cannot answer in %s", m.state))
	}
	delete(m.draft.Answers, questionID)
	return nil
}

func (m *Machine) question(id string) (course.Question, bool) {
	for _, q := range m.detail.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return course.Question{}, false
}

// Next advances the cursor, stopping at the last question.
func (m *Machine) Next() int { return m.move(1) }

// Previous moves the cursor back, stopping at the first question.
func (m *Machine) Previous() int { return m.move(-1) }

// Jump moves the cursor to index, clamped to the question range.
func (m *Machine) Jump(index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return 0
	}
	m.draft.Cursor = clamp(index, len(m.detail.Questions)-1)
	return m.draft.Cursor
}

func (m *Machine) move(delta int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return 0
	}
	m.draft.Cursor = clamp(m.draft.Cursor+delta, len(m.detail.Questions)-1)
	return m.draft.Cursor
}

func clamp(i, last int) int {
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}

// Submit sends the answers and waits for grading. It requires at least one
// answer; an empty map is rejected locally without a network call. Once
// sent, the call is detached from ctx cancellation and only the step
// timeout ends it.
func (m *Machine) Submit(ctx context.Context) (course.AttemptResult, error) {
	m.mu.Lock()
	switch {
	case m.state == Submitting:
		m.mu.Unlock()
		return course.AttemptResult{}, errs.Validation("a submission is already in flight")
	case m.state == Ready || (m.state == Answering && len(m.draft.Answers) == 0):
		m.mu.Unlock()
		return course.AttemptResult{}, errs.Validation("answer at least one question before submitting")
	case m.state != Answering:
		st := m.state
		m.mu.Unlock()
		return course.AttemptResult{}, errs.Validation(fmt.Sprintf("cannot submit in %s", st))
	}
	answers := m.draft.Answers.Clone()
	courseID := m.courseID
	m.state = Submitting
	m.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	res, err := m.backend.SubmitAttempt(sctx, courseID, answers)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.fail(err, "could not submit the test")
		return course.AttemptResult{}, m.err
	}
	if res.Percentage == "" {
		res.Percentage = fmt.Sprintf("%.1f%%", res.Score)
	}
	m.result = &res
	m.draft = nil
	m.state = Completed
	return res, nil
}

// Abandon discards the session before submission. A pending load is
// cancelled. It is refused while a submission is in flight.
func (m *Machine) Abandon() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Submitting {
		return errs.Validation("submission in flight cannot be abandoned")
	}
	if m.cancelLoad != nil {
		m.cancelLoad()
		m.cancelLoad = nil
	}
	m.gen++
	m.reset()
	return nil
}

// Reset returns a Completed or Error machine to Idle so it can be started
// again.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Completed && m.state != Error && m.state != Idle {
		return errs.Validation(fmt.Sprintf("cannot reset from %s; abandon instead", m.state))
	}
	m.reset()
	return nil
}

func (m *Machine) reset() {
	m.state = Idle
	m.courseID = ""
	m.detail = nil
	m.draft = nil
	m.result = nil
	m.err = nil
}

// Snapshot is a consistent read of the machine for rendering.
type Snapshot struct {
	State    State
	CourseID string
	Title    string
	Cursor   int
	Total    int
	Question *course.Question
	// Selected is the chosen option for Question, or -1.
	Selected int
	Answered int
	Answers  course.Answers
	Result   *course.AttemptResult
	Err      error
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.state, CourseID: m.courseID, Selected: -1, Err: m.err}
	if m.detail != nil {
		s.Title = m.detail.Title
		s.Total = len(m.detail.Questions)
	}
	if m.draft != nil {
		s.Cursor = m.draft.Cursor
		q := m.detail.Questions[m.draft.Cursor]
		s.Question = &q
		if v, ok := m.draft.Answers[q.ID]; ok {
			s.Selected = v
		}
		s.Answered = len(m.draft.Answers)
		s.Answers = m.draft.Answers.Clone()
	}
	if m.result != nil {
		r := *m.result
		s.Result = &r
	}
	return s
}

func verdictError(v entitlement.Verdict) error {
	return fmt.Errorf("entitlement: %s", v)
}
