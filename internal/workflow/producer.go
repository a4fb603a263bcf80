package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidflow/internal/config"
	"vidflow/internal/language"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/queue"
	"vidflow/internal/services"
	"vidflow/internal/stage"
	"vidflow/internal/urlcheck"
)

// FlowTicket is returned to the caller of CreateFlow.
type FlowTicket struct {
	TaskID            string        `json:"taskId"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
}

// Producer admits new flows.
type Producer struct {
	cfg       *config.Config
	orch      *Orchestrator
	validator *urlcheck.Validator
	logger    *slog.Logger
	newID     func() string
}

// NewProducer builds a producer that admits flows into orch. A nil validator
// accepts the configured allowed hosts.
func NewProducer(cfg *config.Config, orch *Orchestrator, validator *urlcheck.Validator, logger *slog.Logger) *Producer {
	if validator == nil {
		validator = urlcheck.New(cfg.Flow.AllowedHosts)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Producer{
		cfg:       cfg,
		orch:      orch,
		validator: validator,
		logger:    logging.NewComponentLogger(logger, "producer"),
		newID:     uuid.NewString,
	}
}

// CreateFlow validates the request, reserves a capacity slot, creates the
// pending manifest, and queues the first stage. It returns
// ErrCapacityExceeded when the active flow limit is reached and an
// ErrValidation-wrapped error for bad input.
func (p *Producer) CreateFlow(ctx context.Context, rawURL string, opts stage.Options) (FlowTicket, error) {
	source, err := p.validator.Validate(rawURL)
	if err != nil {
		return FlowTicket{}, err
	}
	priority, err := queue.ParsePriority(opts.Priority)
	if err != nil {
		return FlowTicket{}, services.Wrap(services.ErrValidation, "submit", "parse priority", "Invalid priority", err)
	}
	if !stage.ValidSummaryStyle(opts.SummaryStyle) {
		return FlowTicket{}, services.Wrap(services.ErrValidation, "submit", "summary style",
			fmt.Sprintf("Unknown summary style %q (want %s)", opts.SummaryStyle, strings.Join(stage.SummaryStyles, ", ")), nil)
	}
	opts.Priority = priority.String()
	opts.SummaryStyle = strings.ToLower(strings.TrimSpace(opts.SummaryStyle))
	opts.Language = language.Normalize(opts.Language)

	taskID := p.newID()
	o := p.orch
	if err := o.tracker.Reserve(taskID, p.cfg.Flow.MaxConcurrentFlows); err != nil {
		p.logger.Info("flow rejected",
			logging.String(logging.FieldEventType, "flow_rejected"),
			logging.Int("active_flows", o.tracker.ActiveCount()),
			logging.Int("max_flows", p.cfg.Flow.MaxConcurrentFlows),
		)
		return FlowTicket{}, err
	}

	first := pipeline.MustLookup(pipeline.First())
	if err := p.commit(ctx, taskID, source.URL, opts, priority, first); err != nil {
		o.tracker.Release(taskID)
		return FlowTicket{}, err
	}

	ticket := FlowTicket{TaskID: taskID, EstimatedDuration: pipeline.EstimatedDuration()}
	p.logger.Info("flow created",
		logging.String(logging.FieldTaskID, taskID),
		logging.String(logging.FieldEventType, "flow_created"),
		logging.String("url", source.URL),
		logging.String("platform", source.Platform),
		logging.String("priority", opts.Priority),
	)
	o.emit(ctx, taskID, notifications.EventStatusChange, notifications.Payload{
		"status": string(pipeline.StatusPending),
		"url":    source.URL,
	})
	return ticket, nil
}

func (p *Producer) commit(ctx context.Context, taskID, sourceURL string, opts stage.Options, priority queue.Priority, first pipeline.Definition) error {
	o := p.orch
	unlock := o.locks.Lock(taskID)
	defer unlock()

	m := manifest.New(taskID, o.now())
	if err := o.manifests.Create(ctx, m); err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	input, err := stage.EncodeInput(stage.Input{
		TaskID:  taskID,
		URL:     sourceURL,
		Options: opts,
		WorkDir: o.manifests.TaskDir(taskID),
	})
	if err == nil {
		_, err = o.enqueue(ctx, queue.EnqueueRequest{
			TaskID:      taskID,
			Stage:       first.Queue,
			Attempt:     1,
			MaxAttempts: o.attempts(first),
			Priority:    priority,
			InputJSON:   input,
		})
	}
	if err != nil {
		if rmErr := o.manifests.Remove(ctx, taskID); rmErr != nil && !errors.Is(rmErr, manifest.ErrNotFound) {
			logging.WarnWithContext(p.logger, "rollback of manifest failed", "manifest_io",
				logging.String(logging.FieldTaskID, taskID),
				logging.Error(rmErr),
				logging.String(logging.FieldImpact, "an orphaned pending manifest remains on disk"),
			)
		}
		return fmt.Errorf("queue first stage: %w", err)
	}
	o.tracker.Upsert(taskID, func(fp *FlowProgress) {
		fp.CurrentStage = first.Stage.String()
		fp.StartedAt = m.CreatedAt
	})
	return nil
}
