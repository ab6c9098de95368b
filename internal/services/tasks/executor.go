package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// ExecutionResult summarizes one executor run
type ExecutionResult struct {
	TaskID    string
	Status    models.TaskStatus
	Output    string
	Duration  time.Duration
	Fragments int
	Skipped   bool // another delivery already claimed the run
}

// Executor drives the task lifecycle for one queue delivery: it claims the
// run, walks the task through running to a terminal state, and dual-writes
// every event to the durable log and the relay. Storage failures abort the
// run; relay publish failures are logged and do not (the log is the source
// of truth, the relay is best-effort fan-out).
type Executor struct {
	storage   interfaces.TaskLogStorage
	relay     interfaces.RelayService
	generator interfaces.GenerationService
	logger    arbor.ILogger
}

// NewExecutor creates a new task executor
func NewExecutor(storage interfaces.TaskLogStorage, relay interfaces.RelayService, generator interfaces.GenerationService, logger arbor.ILogger) *Executor {
	return &Executor{
		storage:   storage,
		relay:     relay,
		generator: generator,
		logger:    logger,
	}
}

// publishEnvelope is best-effort fan-out; failures never abort the run
func (e *Executor) publishEnvelope(ctx context.Context, taskID string, envelope models.Envelope) {
	if err := e.relay.PublishEnvelope(ctx, taskID, envelope); err != nil {
		e.logger.Warn().
			Err(err).
			Str("task_id", taskID).
			Str("envelope_type", string(envelope.Type)).
			Msg("Relay publish failed")
	}
}

// recordStatus appends the status to the durable log and mirrors it on the relay
func (e *Executor) recordStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	if err := e.storage.AppendStatus(ctx, taskID, status); err != nil {
		return fmt.Errorf("failed to record %s status: %w", status, err)
	}
	e.publishEnvelope(ctx, taskID, models.NewStatusEnvelope(status))
	return nil
}

// fail marks the task failed, recording the error in the durable log and on
// the relay. Called on every failure path after the run was claimed.
func (e *Executor) fail(ctx context.Context, taskID string, runErr error) {
	e.logger.Error().Err(runErr).Str("task_id", taskID).Msg("Task execution failed")

	if err := e.storage.AppendError(ctx, taskID, runErr.Error()); err != nil {
		e.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record task error")
	}
	e.publishEnvelope(ctx, taskID, models.NewErrorEnvelope(runErr.Error()))

	if err := e.recordStatus(ctx, taskID, models.TaskStatusFailed); err != nil {
		e.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record failed status")
	}
}

// Execute runs one delivered task to a terminal state. It never panics and
// always returns a result; a redundant delivery for an already-claimed task
// returns Skipped=true without touching the task's state.
func (e *Executor) Execute(ctx context.Context, payload models.WebhookPayload) (result ExecutionResult, err error) {
	startTime := time.Now()
	result = ExecutionResult{TaskID: payload.TaskID}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			result.Status = models.TaskStatusFailed
			e.fail(ctx, payload.TaskID, err)
		}
		result.Duration = time.Since(startTime)
	}()

	if payload.TaskID == "" {
		return result, fmt.Errorf("delivery payload missing task id")
	}
	if payload.Prompt == "" {
		err := fmt.Errorf("delivery payload missing prompt")
		e.fail(ctx, payload.TaskID, err)
		result.Status = models.TaskStatusFailed
		return result, err
	}

	// The queue delivers at-least-once; only one delivery wins the run
	claimed, err := e.storage.ClaimRun(ctx, payload.TaskID)
	if err != nil {
		return result, fmt.Errorf("failed to claim task run: %w", err)
	}
	if !claimed {
		e.logger.Info().Str("task_id", payload.TaskID).Msg("Task already claimed, skipping redundant delivery")
		result.Skipped = true
		return result, nil
	}

	e.logger.Info().
		Str("task_id", payload.TaskID).
		Str("model", payload.Model).
		Msg("Executing task")

	if err := e.recordStatus(ctx, payload.TaskID, models.TaskStatusRunning); err != nil {
		result.Status = models.TaskStatusFailed
		e.fail(ctx, payload.TaskID, err)
		return result, err
	}

	e.publishEnvelope(ctx, payload.TaskID, models.NewStartEnvelope(payload.TaskID))

	fragments := 0
	output, genErr := e.generator.GenerateStream(ctx, interfaces.GenerationRequest{
		Prompt:      payload.Prompt,
		Model:       payload.Model,
		MaxTokens:   payload.MaxTokens,
		Temperature: payload.Temperature,
	}, func(fragment string) error {
		// Durable log first, then fan-out: a replayed task always holds at
		// least what any live subscriber saw.
		if err := e.storage.AppendChunk(ctx, payload.TaskID, fragment); err != nil {
			return fmt.Errorf("failed to persist output fragment: %w", err)
		}
		e.publishEnvelope(ctx, payload.TaskID, models.NewContentEnvelope(fragment))
		fragments++
		return nil
	})
	result.Fragments = fragments

	if genErr != nil {
		result.Status = models.TaskStatusFailed
		e.fail(ctx, payload.TaskID, genErr)
		return result, genErr
	}

	e.publishEnvelope(ctx, payload.TaskID, models.NewEndEnvelope(output))

	if err := e.recordStatus(ctx, payload.TaskID, models.TaskStatusCompleted); err != nil {
		result.Status = models.TaskStatusFailed
		return result, err
	}

	result.Status = models.TaskStatusCompleted
	result.Output = output

	e.logger.Info().
		Str("task_id", payload.TaskID).
		Int("fragments", fragments).
		Int("output_length", len(output)).
		Dur("duration", time.Since(startTime)).
		Msg("Task completed")

	return result, nil
}
