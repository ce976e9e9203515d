package orchestrator

import (
	"time"

	"github.com/mwhitlock/chorus/internal/agent"
	"github.com/mwhitlock/chorus/internal/planner"
	"github.com/mwhitlock/chorus/internal/queue"
	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/internal/store"
)

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// Registry holds the agents requests are routed across.
	Registry *registry.Registry
	// Runtime executes tasks on agents.
	Runtime *agent.Runtime
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	workers      int
	taskDeadline time.Duration
	retryPolicy  queue.RetryPolicy
	matcher      planner.Matcher
	db           store.Store
	logger       *DebugLogger
	eventBuffer  int
	abortOnStop  bool
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		workers:      4,
		taskDeadline: 60 * time.Second,
		retryPolicy:  queue.DefaultRetryPolicy(),
		eventBuffer:  256,
	}
}

// WithWorkers sets the maximum number of concurrently executing tasks.
func WithWorkers(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithTaskDeadline sets the default per-task execution deadline. Tasks
// carrying their own deadline keep it. Zero disables the default deadline.
func WithTaskDeadline(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.taskDeadline = d }
}

// WithRetryPolicy sets the retry policy applied to failed tasks.
func WithRetryPolicy(p queue.RetryPolicy) Option {
	return func(o *orchestratorOptions) { o.retryPolicy = p }
}

// WithMatcher sets the capability matcher used for goal decomposition.
// Defaults to the keyword matcher.
func WithMatcher(m planner.Matcher) Option {
	return func(o *orchestratorOptions) { o.matcher = m }
}

// WithStore enables persistence of requests, tasks, and agent state.
// Without a store the orchestrator runs fully in memory.
func WithStore(db store.Store) Option {
	return func(o *orchestratorOptions) { o.db = db }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithAbortOnStop makes Stop abort in-flight work instead of draining it.
func WithAbortOnStop(b bool) Option {
	return func(o *orchestratorOptions) { o.abortOnStop = b }
}
