package claude

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// updateInterval throttles streaming output callbacks.
	updateInterval = 2 * time.Second
	// readTimeout kills a run that produced no stdout line for too long.
	readTimeout = 600 * time.Second
	// heartbeatInterval paces the synthetic "still working" updates.
	heartbeatInterval = 120 * time.Second
	// maxWallClock bounds one CLI invocation end to end.
	maxWallClock = 30 * time.Minute
	// maxConcurrentRuns caps CLI processes across all users.
	maxConcurrentRuns = 2
	// maxLineBytes sizes the scanner buffer for long JSON lines.
	maxLineBytes = 10 * 1024 * 1024
)

// RunSpec describes one CLI invocation.
type RunSpec struct {
	// Args is the full argument vector, binary first.
	Args []string
	// Dir is the working directory the process runs in.
	Dir string
}

// RunResult is the outcome of one CLI invocation. Expected failures are
// reported in Err; a non-nil error from Run means the process never started.
type RunResult struct {
	// Events are all parsed stream events in arrival order.
	Events []Event
	// Text is the accumulated assistant text.
	Text string
	// ExitCode is the process exit code, or -1 if it was killed.
	ExitCode int
	// Err describes a failure, empty on success or cooperative stop.
	Err string
	// Stopped reports that the run was cancelled by the stop signal.
	Stopped bool
}

// Runner spawns CLI processes and streams their output. A single Runner is
// shared by all users; its admission gate bounds concurrent processes.
type Runner struct {
	sem chan struct{}

	updateInterval    time.Duration
	readTimeout       time.Duration
	heartbeatInterval time.Duration
	wallClock         time.Duration
}

// NewRunner creates a Runner with production timeouts.
func NewRunner() *Runner {
	return &Runner{
		sem:               make(chan struct{}, maxConcurrentRuns),
		updateInterval:    updateInterval,
		readTimeout:       readTimeout,
		heartbeatInterval: heartbeatInterval,
		wallClock:         maxWallClock,
	}
}

// Run spawns the CLI and drains its stream-json output.
//
// onUpdate receives the accumulated text at most once per updateInterval
// plus one final flush; while the process is silent it also receives
// heartbeat pseudo-updates that do not mutate the accumulated text.
// stop is polled between reads; once triggered the process is killed and
// the result reports Stopped without an error.
func (r *Runner) Run(spec RunSpec, onUpdate func(string), stop *Stop) (*RunResult, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}

	// Admission gate: block until one of the global slots frees.
	select {
	case r.sem <- struct{}{}:
	case <-stop.C():
		return &RunResult{ExitCode: -1, Stopped: true}, nil
	}
	defer func() { <-r.sem }()

	return r.run(spec, onUpdate, stop)
}

func (r *Runner) run(spec RunSpec, onUpdate func(string), stop *Stop) (*RunResult, error) {
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	// New process group, so killing the run also reaches the tool
	// subprocesses the CLI spawns. They inherit our pipe ends, and the
	// readers below only unblock once every writer is gone.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting claude CLI: %w", err)
	}

	// done unblocks the reader goroutine if the select loop exits early.
	done := make(chan struct{})

	lines := make(chan string, 64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	var stderrText string
	wg.Add(1)
	go func() {
		defer wg.Done()
		data, _ := io.ReadAll(stderr)
		stderrText = string(data)
	}()

	var (
		events     []Event
		text       strings.Builder
		lastSent   string
		lastUpdate time.Time
		lastOutput = time.Now()
		stopped    bool
		killed     bool
		runErr     string
	)

	sendUpdate := func(s string) {
		if onUpdate == nil || s == "" || s == lastSent {
			return
		}
		lastSent = s
		onUpdate(s)
	}

	readTimer := time.NewTimer(r.readTimeout)
	defer readTimer.Stop()
	wallTimer := time.NewTimer(r.wallClock)
	defer wallTimer.Stop()
	heartbeat := time.NewTicker(r.heartbeatInterval)
	defer heartbeat.Stop()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if !readTimer.Stop() {
				<-readTimer.C
			}
			readTimer.Reset(r.readTimeout)

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			lastOutput = time.Now()

			parsed, err := ParseLine(line)
			if err != nil {
				log.Printf("Skipping non-JSON line from claude CLI: %.200s", line)
				continue
			}
			events = append(events, parsed...)
			for _, ev := range parsed {
				if ev.Kind != KindText {
					continue
				}
				text.WriteString(ev.Text)
				if time.Since(lastUpdate) >= r.updateInterval {
					sendUpdate(text.String())
					lastUpdate = time.Now()
				}
			}

		case <-stop.C():
			log.Printf("Stop requested, killing claude CLI")
			stopped = true
			killed = true
			break loop

		case <-readTimer.C:
			log.Printf("No output from claude CLI for %v, killing", r.readTimeout)
			runErr = "claude CLI produced no output (read timeout)"
			killed = true
			break loop

		case <-wallTimer.C:
			log.Printf("claude CLI exceeded the %v wall-clock limit, killing", r.wallClock)
			runErr = "claude CLI exceeded the time limit"
			killed = true
			break loop

		case <-heartbeat.C:
			idle := time.Since(lastOutput)
			if idle >= r.heartbeatInterval {
				minutes := int(idle / time.Minute)
				sendUpdate(text.String() + fmt.Sprintf("\n\n[⏳ still working, %d min without output]", minutes))
			}
		}
	}

	// Cleanup is unconditional: the process is reaped on every exit path.
	if killed {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	close(done)
	wg.Wait()
	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if killed {
		exitCode = -1
	}

	sendUpdate(text.String())

	if stderrText != "" {
		log.Printf("claude CLI stderr: %s", strings.TrimSpace(stderrText))
	}

	result := &RunResult{
		Events:   events,
		Text:     text.String(),
		ExitCode: exitCode,
		Stopped:  stopped,
	}

	switch {
	case stopped:
		// Cooperative stop is a normal outcome, not a failure.
	case runErr != "":
		result.Err = runErr
	case exitCode != 0:
		result.Err = strings.TrimSpace(stderrText)
		if result.Err == "" {
			result.Err = ResultErrors(events)
		}
		if result.Err == "" {
			result.Err = fmt.Sprintf("claude CLI exited with code %d", exitCode)
		}
	}

	log.Printf("claude CLI finished: exit=%d stopped=%v events=%d", exitCode, stopped, len(events))
	return result, nil
}
