package claude

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// QuestionToolName is the sentinel tool the CLI uses to ask the user a
// clarifying question. It is surfaced through the permission-denial
// channel rather than a dedicated event type.
const QuestionToolName = "AskUserQuestion"

// SafeTools are read-only or introspection tools granted on every
// invocation without negotiation.
var SafeTools = []string{"Read", "Glob", "Grep", "Explore", "Task", "TaskOutput"}

// autoApprovedTools are benign workflow-management tools granted without
// asking the user when the CLI requests them.
var autoApprovedTools = map[string]bool{
	"EnterPlanMode": true,
	"ExitPlanMode":  true,
	"TodoWrite":     true,
	"TaskCreate":    true,
	"TaskUpdate":    true,
	"TaskList":      true,
	"TaskGet":       true,
	"NotebookEdit":  true,
}

const (
	// maxPermissionRounds bounds the approve-and-resume loop.
	maxPermissionRounds = 5
	// callbackAttempts bounds retries of a flaky negotiation callback.
	callbackAttempts = 3
	// callbackBackoff is the linear backoff step between attempts.
	callbackBackoff = 2 * time.Second
	// negotiationTimeout is how long the user has to respond.
	negotiationTimeout = 300 * time.Second
)

// processRunner is what the executor needs from a Runner. Tests plug in
// scripted fakes.
type processRunner interface {
	Run(spec RunSpec, onUpdate func(string), stop *Stop) (*RunResult, error)
}

// Callbacks are the transport hooks one execution negotiates through.
// OnPermission returns the approved tool names (empty means deny all).
// OnQuestion returns answers keyed by question index, nil if abandoned.
// Both may return an error on transport failure, which is retried.
type Callbacks struct {
	OnUpdate     func(text string)
	OnPermission func(ctx context.Context, denials []Denial) ([]string, error)
	OnQuestion   func(ctx context.Context, payload QuestionPayload) (map[int]string, error)
}

// Request describes one execution of the CLI.
type Request struct {
	Message   string
	SessionID string
	// Resume continues an existing CLI session instead of starting one.
	Resume bool
	// WorkDir is the workspace the CLI runs in and is diffed against.
	WorkDir string
	// PreApproved are tools the user approved for the session's lifetime.
	PreApproved []string
}

// Result is the reconciled outcome of an execution including any
// permission continuations.
type Result struct {
	Text         string
	CreatedFiles []string
	Actions      []ToolAction
	ExitCode     int
	Err          string
	Stopped      bool
}

// Executor drives the CLI through permission and question negotiation.
type Executor struct {
	runner  processRunner
	cliPath string

	negotiationTimeout time.Duration
}

// NewExecutor wires an executor to a runner and the CLI binary path.
func NewExecutor(runner processRunner, cliPath string) *Executor {
	return &Executor{
		runner:             runner,
		cliPath:            cliPath,
		negotiationTimeout: negotiationTimeout,
	}
}

// Execute runs the CLI once, then negotiates denied permissions and
// clarifying questions with the user, resuming the CLI session with a
// widened allowlist until it finishes, the user declines everything, or
// the retry ceiling is hit. Created files are inferred by diffing the
// workspace before and after.
func (e *Executor) Execute(req Request, cb Callbacks, stop *Stop) *Result {
	before := SnapshotWorkspace(req.WorkDir)

	allowed := e.baseAllowlist(req.PreApproved)
	spec := e.runSpec(req.WorkDir, allowed, req.SessionID, req.Resume, req.Message)

	run, err := e.runner.Run(spec, cb.OnUpdate, stop)
	if err != nil {
		return &Result{ExitCode: -1, Err: err.Error()}
	}

	text := run.Text
	actions := ExtractToolActions(run.Events)
	final := run

	for round := 0; round < maxPermissionRounds; round++ {
		if final.Stopped || final.Err != "" {
			break
		}
		denials := PermissionDenials(final.Events)
		if len(denials) == 0 {
			break
		}

		questions, others := splitDenials(denials)

		var answerNote string
		if len(questions) > 0 {
			answerNote = e.negotiateQuestions(questions, cb)
		}

		approved, autoApproved := e.negotiatePermissions(others, cb)

		if len(approved) == 0 && len(autoApproved) == 0 && answerNote == "" {
			log.Printf("No tools approved and no questions answered, giving up after round %d", round+1)
			break
		}

		for _, tool := range approved {
			allowed[tool] = true
		}
		for _, tool := range autoApproved {
			allowed[tool] = true
		}

		continuation := continuationMessage(approved, autoApproved, answerNote)
		spec = e.runSpec(req.WorkDir, allowed, req.SessionID, true, continuation)

		final, err = e.runner.Run(spec, cb.OnUpdate, stop)
		if err != nil {
			return &Result{Text: text, ExitCode: -1, Err: err.Error()}
		}
		text = mergeText(text, final.Text)
		actions = append(actions, ExtractToolActions(final.Events)...)
		if final.Stopped {
			break
		}
	}

	if text == "" {
		text = ResultText(final.Events)
	}

	after := SnapshotWorkspace(req.WorkDir)
	return &Result{
		Text:         text,
		CreatedFiles: NewFiles(before, after),
		Actions:      actions,
		ExitCode:     final.ExitCode,
		Err:          final.Err,
		Stopped:      final.Stopped,
	}
}

// baseAllowlist is the safe set plus session pre-approvals plus the
// question sentinel, which must always be allowed so the CLI can ask.
func (e *Executor) baseAllowlist(preApproved []string) map[string]bool {
	allowed := make(map[string]bool, len(SafeTools)+len(preApproved)+1)
	for _, tool := range SafeTools {
		allowed[tool] = true
	}
	for _, tool := range preApproved {
		allowed[tool] = true
	}
	allowed[QuestionToolName] = true
	return allowed
}

func (e *Executor) runSpec(dir string, allowed map[string]bool, sessionID string, resume bool, message string) RunSpec {
	tools := make([]string, 0, len(allowed))
	for tool := range allowed {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	args := []string{
		e.cliPath,
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--allowedTools", strings.Join(tools, ","),
	}
	if resume {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}
	args = append(args, "--", message)
	return RunSpec{Args: args, Dir: dir}
}

func splitDenials(denials []Denial) (questions, others []Denial) {
	for _, d := range denials {
		if d.ToolName == QuestionToolName {
			questions = append(questions, d)
		} else {
			others = append(others, d)
		}
	}
	return questions, others
}

// negotiateQuestions asks the user every clarifying question the CLI
// raised and returns a continuation note with the answers. Timeouts and
// abandonment become a "did not answer" note rather than a failure.
func (e *Executor) negotiateQuestions(questions []Denial, cb Callbacks) string {
	if cb.OnQuestion == nil {
		return "The user did not answer the question. Proceed with your best judgment."
	}

	var notes []string
	for _, q := range questions {
		payload, err := ParseQuestionPayload(q.ToolInput)
		if err != nil || len(payload.Questions) == 0 {
			log.Printf("Skipping malformed question payload: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.negotiationTimeout)
		answers, err := withRetry(ctx, func() (map[int]string, error) {
			return cb.OnQuestion(ctx, payload)
		})
		cancel()
		if err != nil {
			log.Printf("Question callback failed: %v", err)
		}

		if len(answers) == 0 {
			notes = append(notes, "The user did not answer the question. Proceed with your best judgment.")
			continue
		}
		for i, question := range payload.Questions {
			answer, ok := answers[i]
			if !ok {
				continue
			}
			notes = append(notes, fmt.Sprintf("Q: %s\nA: %s", question.Question, answer))
		}
	}
	return strings.Join(notes, "\n\n")
}

// negotiatePermissions asks the user for the denied tools that are not
// auto-approved. A timeout or callback failure means deny all.
func (e *Executor) negotiatePermissions(denials []Denial, cb Callbacks) (approved, autoApproved []string) {
	var ask []Denial
	seen := make(map[string]bool)
	for _, d := range denials {
		if seen[d.ToolName] {
			continue
		}
		seen[d.ToolName] = true
		if autoApprovedTools[d.ToolName] {
			autoApproved = append(autoApproved, d.ToolName)
		} else {
			ask = append(ask, d)
		}
	}
	if len(ask) == 0 || cb.OnPermission == nil {
		return nil, autoApproved
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.negotiationTimeout)
	defer cancel()
	approved, err := withRetry(ctx, func() ([]string, error) {
		return cb.OnPermission(ctx, ask)
	})
	if err != nil {
		log.Printf("Permission callback failed, treating as denied: %v", err)
		return nil, autoApproved
	}
	return approved, autoApproved
}

// withRetry retries a flaky callback with linear backoff. It gives up
// early once the negotiation deadline passes.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= callbackAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt < callbackAttempts {
			select {
			case <-time.After(time.Duration(attempt) * callbackBackoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}

// continuationMessage tells the CLI what the user granted or answered so
// it can pick up where it was denied.
func continuationMessage(approved, autoApproved []string, answerNote string) string {
	var parts []string
	granted := append(append([]string{}, approved...), autoApproved...)
	if len(granted) > 0 {
		sort.Strings(granted)
		parts = append(parts, fmt.Sprintf("The user approved the following tools: %s. Continue with the task using them.", strings.Join(granted, ", ")))
	}
	if answerNote != "" {
		parts = append(parts, "The user answered your question(s):\n\n"+answerNote+"\n\nContinue with the task using these answers.")
	}
	if len(parts) == 0 {
		parts = append(parts, "Continue with the task.")
	}
	return strings.Join(parts, "\n\n")
}

// mergeText appends continuation output after prior output. A silent
// continuation keeps the prior text unchanged.
func mergeText(prior, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return prior
	}
	if prior == "" {
		return next
	}
	return prior + "\n\n" + next
}
