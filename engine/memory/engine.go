package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/engine"
	ie "github.com/cschleiden/go-resume/internal/errors"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/suspension"
	"github.com/google/uuid"
)

// Header names set on every execution handed to the suspension handler
const (
	HeaderProcessKey        = "processKey"
	HeaderProcessInstanceID = "processInstanceId"
	HeaderActivityID        = "activityId"
)

var ErrNoSuspensionHandler = errors.New("no suspension handler bound")

var (
	_ engine.Engine     = (*Engine)(nil)
	_ suspension.Binder = (*Engine)(nil)
)

// Engine is an in-memory engine running processes made of task and wait activities. State is lost when the process
// exits.
//
// Every time an instance is resumed it continues under a new execution id, so an id identifies exactly one stay at
// a wait point.
type Engine struct {
	options Options
	logger  *slog.Logger

	mu         sync.Mutex
	handler    suspension.Handler
	processes  map[string]*Process
	instances  map[string]*instance
	executions map[string]*instance
}

func NewEngine(opts ...Option) *Engine {
	options := applyOptions(opts...)

	return &Engine{
		options:    options,
		logger:     options.Logger.With("engine", "memory"),
		processes:  make(map[string]*Process),
		instances:  make(map[string]*instance),
		executions: make(map[string]*instance),
	}
}

func (e *Engine) BindSuspensionHandler(h suspension.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handler = h
}

// RegisterProcess makes the process available for StartInstance
func (e *Engine) RegisterProcess(p *Process) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Key == "" {
		return errors.New("process key must not be empty")
	}

	if _, ok := e.processes[p.Key]; ok {
		return fmt.Errorf("process %q already registered", p.Key)
	}

	e.processes[p.Key] = p

	return nil
}

func (e *Engine) StartInstance(ctx context.Context, processKey string) (string, error) {
	e.mu.Lock()
	p, ok := e.processes[processKey]
	e.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("starting instance of %q: %w", processKey, engine.ErrUnknownProcess)
	}

	i := &instance{
		Instance: Instance{
			InstanceID:  uuid.NewString(),
			ProcessKey:  processKey,
			ExecutionID: uuid.NewString(),
			State:       InstanceStateRunning,
		},
		process: p,
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	e.mu.Lock()
	e.instances[i.InstanceID] = i
	e.executions[i.ExecutionID] = i
	e.mu.Unlock()

	e.options.Metrics.Counter(metrickeys.InstanceStarted, metrics.Tags{}, 1)
	e.logger.DebugContext(ctx, "started instance",
		log.ProcessKeyKey, processKey,
		log.ProcessInstanceIDKey, i.InstanceID,
		log.ExecutionIDKey, i.ExecutionID,
	)

	executionID := i.ExecutionID

	if err := e.run(ctx, i); err != nil {
		return "", err
	}

	return executionID, nil
}

func (e *Engine) Signal(ctx context.Context, executionID string) error {
	i, err := e.lookup(executionID)
	if err != nil {
		return engine.SignalFailure(executionID, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.State != InstanceStateWaiting || i.ExecutionID != executionID {
		return engine.SignalFailure(executionID, engine.ErrExecutionNotWaiting)
	}

	e.logger.DebugContext(ctx, "signaled execution",
		log.ProcessInstanceIDKey, i.InstanceID,
		log.ExecutionIDKey, executionID,
		log.ActivityIDKey, i.ActivityID,
	)

	i.activity++
	i.State = InstanceStateRunning
	i.ExecutionID = uuid.NewString()

	e.mu.Lock()
	e.executions[i.ExecutionID] = i
	e.mu.Unlock()

	return e.run(ctx, i)
}

func (e *Engine) Abandon(ctx context.Context, executionID, reason string) error {
	i, err := e.lookup(executionID)
	if err != nil {
		return fmt.Errorf("abandoning execution %s: %w", executionID, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.State != InstanceStateWaiting || i.ExecutionID != executionID {
		return fmt.Errorf("abandoning execution %s: %w", executionID, engine.ErrExecutionNotWaiting)
	}

	i.State = InstanceStateCancelled
	i.Reason = reason

	e.logger.InfoContext(ctx, "abandoned execution",
		log.ProcessInstanceIDKey, i.InstanceID,
		log.ExecutionIDKey, executionID,
		log.ActivityIDKey, i.ActivityID,
		log.ReasonKey, reason,
	)

	return nil
}

// Instance returns a snapshot of the instance the given execution belongs to
func (e *Engine) Instance(executionID string) (*Instance, error) {
	i, err := e.lookup(executionID)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	snapshot := i.Instance
	return &snapshot, nil
}

func (e *Engine) lookup(executionID string) (*instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.executions[executionID]
	if !ok {
		return nil, engine.ErrExecutionNotFound
	}

	return i, nil
}

// run advances the instance until it completes, fails, or reaches a wait point. Caller holds i.mu.
func (e *Engine) run(ctx context.Context, i *instance) error {
	activities := i.process.Activities

	for i.activity < len(activities) {
		a := activities[i.activity]
		i.ActivityID = a.ID

		exec := &core.Execution{
			ExecutionID:       i.ExecutionID,
			ProcessInstanceID: i.InstanceID,
			ProcessKey:        i.ProcessKey,
			ActivityID:        a.ID,
			Headers: map[string]any{
				HeaderProcessKey:        i.ProcessKey,
				HeaderProcessInstanceID: i.InstanceID,
				HeaderActivityID:        a.ID,
			},
		}

		switch a.kind {
		case activityTask:
			if err := runTask(ctx, a.fn, exec); err != nil {
				return e.fail(ctx, i, err)
			}

			i.activity++

		case activityWait:
			e.mu.Lock()
			h := e.handler
			e.mu.Unlock()

			if h == nil {
				return e.fail(ctx, i, ErrNoSuspensionHandler)
			}

			i.State = InstanceStateWaiting

			if err := h.Execute(ctx, exec); err != nil {
				return e.fail(ctx, i, err)
			}

			return nil
		}
	}

	i.State = InstanceStateCompleted
	i.ActivityID = ""

	e.logger.DebugContext(ctx, "completed instance", log.ProcessInstanceIDKey, i.InstanceID)

	return nil
}

func (e *Engine) fail(ctx context.Context, i *instance, err error) error {
	i.State = InstanceStateFailed
	i.Err = err

	args := []any{
		log.ProcessInstanceIDKey, i.InstanceID,
		log.ExecutionIDKey, i.ExecutionID,
		log.ActivityIDKey, i.ActivityID,
		"error", err,
	}

	var pe *ie.PanicError
	if errors.As(err, &pe) {
		args = append(args, "stacktrace", pe.Stacktrace())
	}

	e.logger.ErrorContext(ctx, "activity failed", args...)

	return fmt.Errorf("activity %s of instance %s: %w", i.ActivityID, i.InstanceID, err)
}

func runTask(ctx context.Context, fn TaskFunc, e *core.Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ie.NewPanicError(r)
		}
	}()

	return fn(ctx, e)
}
