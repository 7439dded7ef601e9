package claude

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// QuestionRequest is one pending multi-question exchange. The outcome cell
// yields the full answer map once every question is answered, or nil when
// the request is cancelled.
type QuestionRequest struct {
	ID        string
	Questions []Question

	answers    map[int]string
	selections map[int]map[int]bool

	outcome chan map[int]string
	once    sync.Once
}

func (r *QuestionRequest) resolve(answers map[int]string) {
	r.once.Do(func() {
		r.outcome <- answers
		close(r.outcome)
	})
}

// Await blocks until every question is answered or the context expires.
// Returns nil when the exchange was abandoned.
func (r *QuestionRequest) Await(ctx context.Context) map[int]string {
	select {
	case answers := <-r.outcome:
		return answers
	case <-ctx.Done():
		return nil
	}
}

// QuestionManager is a keyed registry of pending question exchanges,
// including the per-chat routing of free-text "other" answers.
type QuestionManager struct {
	mu      sync.Mutex
	pending map[string]*QuestionRequest
	// awaiting maps a chat key to the (request, question) expecting the
	// next plain text message from that chat. At most one per chat.
	awaiting map[int64]awaitingText
}

type awaitingText struct {
	requestID   string
	questionIdx int
}

// NewQuestionManager creates an empty registry.
func NewQuestionManager() *QuestionManager {
	return &QuestionManager{
		pending:  make(map[string]*QuestionRequest),
		awaiting: make(map[int64]awaitingText),
	}
}

// Create registers a new pending exchange under requestID.
func (m *QuestionManager) Create(requestID string, questions []Question) *QuestionRequest {
	req := &QuestionRequest{
		ID:         requestID,
		Questions:  questions,
		answers:    make(map[int]string),
		selections: make(map[int]map[int]bool),
		outcome:    make(chan map[int]string, 1),
	}
	m.mu.Lock()
	m.pending[requestID] = req
	m.mu.Unlock()
	return req
}

// Get returns the pending request, or nil if resolved or unknown.
func (m *QuestionManager) Get(requestID string) *QuestionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[requestID]
}

// SetAnswer records the answer for one question. Returns true when that
// answer completed the exchange, which also resolves the outcome cell.
func (m *QuestionManager) SetAnswer(requestID string, questionIdx int, answer string) bool {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	req.answers[questionIdx] = answer
	if len(req.answers) < len(req.Questions) {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, requestID)
	answers := req.answers
	m.mu.Unlock()

	req.resolve(answers)
	return true
}

// Answer returns the recorded answer for one question, if any.
func (m *QuestionManager) Answer(requestID string, questionIdx int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[requestID]
	if !ok {
		return "", false
	}
	answer, ok := req.answers[questionIdx]
	return answer, ok
}

// ToggleMultiSelect flips one option of a multi-select question and
// returns the currently selected option indices.
func (m *QuestionManager) ToggleMultiSelect(requestID string, questionIdx, optionIdx int) map[int]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[requestID]
	if !ok {
		return nil
	}
	sel := req.selections[questionIdx]
	if sel == nil {
		sel = make(map[int]bool)
		req.selections[questionIdx] = sel
	}
	if sel[optionIdx] {
		delete(sel, optionIdx)
	} else {
		sel[optionIdx] = true
	}
	out := make(map[int]bool, len(sel))
	for k := range sel {
		out[k] = true
	}
	return out
}

// FinalizeMultiSelect joins the selected option labels into one answer
// string ("(nothing selected)" when empty) and records it. It returns
// the answer and whether the exchange is now complete.
func (m *QuestionManager) FinalizeMultiSelect(requestID string, questionIdx int) (string, bool) {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if !ok || questionIdx >= len(req.Questions) {
		m.mu.Unlock()
		return "", false
	}
	options := req.Questions[questionIdx].Options
	sel := req.selections[questionIdx]
	indices := make([]int, 0, len(sel))
	for i := range sel {
		if i < len(options) {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	labels := make([]string, 0, len(indices))
	for _, i := range indices {
		labels = append(labels, options[i].Label)
	}
	m.mu.Unlock()

	answer := strings.Join(labels, ", ")
	if answer == "" {
		answer = "(nothing selected)"
	}
	return answer, m.SetAnswer(requestID, questionIdx, answer)
}

// MarkAwaitingFreeText routes the next plain text message from chatKey to
// the given question's answer slot, replacing any prior expectation.
func (m *QuestionManager) MarkAwaitingFreeText(chatKey int64, requestID string, questionIdx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awaiting[chatKey] = awaitingText{requestID: requestID, questionIdx: questionIdx}
}

// ConsumeAwaitingFreeText pops the pending free-text expectation for a
// chat, if one exists.
func (m *QuestionManager) ConsumeAwaitingFreeText(chatKey int64) (requestID string, questionIdx int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.awaiting[chatKey]
	if !ok {
		return "", 0, false
	}
	delete(m.awaiting, chatKey)
	return at.requestID, at.questionIdx, true
}

// Cancel resolves an outstanding exchange with no answers.
func (m *QuestionManager) Cancel(requestID string) {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	delete(m.pending, requestID)
	m.mu.Unlock()
	if ok {
		req.resolve(nil)
	}
}

// CancelAll drains every outstanding exchange and clears all free-text
// expectations. Used at shutdown.
func (m *QuestionManager) CancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]*QuestionRequest)
	m.awaiting = make(map[int64]awaitingText)
	m.mu.Unlock()
	for _, req := range pending {
		req.resolve(nil)
	}
}
