// internal/workers/matching/notify-donors/handler.go
package notifydonors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "notify-compatible-donors"

type RequestLoader interface {
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
}

type DonorMatcher interface {
	FindMatchesForRequest(ctx context.Context, req *models.BloodRequest, opts matching.Options) (*matching.Result[matching.DonorMatch], error)
}

type Enqueuer interface {
	Enqueue(job dispatch.Job) (dispatch.Handle, error)
}

// Handler ranks compatible donors for a request and queues a donor-match
// notification for each of them. Emergency requests go to the urgent queue.
type Handler struct {
	config       *Config
	requests     RequestLoader
	matcher      DonorMatcher
	jobs         Enqueuer
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, requests RequestLoader, matcher DonorMatcher, jobs Enqueuer, log logger.Logger) *Handler {
	l := logger.Component(log, "notify-donors").WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		requests:     requests,
		matcher:      matcher,
		jobs:         jobs,
		logger:       l,
		errorHandler: apperrors.NewErrorHandler(l),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errorHandler.HandleJobError(context.Background(), client, job,
			apperrors.NewValidationError("variables", fmt.Sprintf("parse input: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx, &input)
	if err != nil {
		code := "UNKNOWN"
		if stdErr, ok := apperrors.AsStandardError(err); ok {
			code = string(stdErr.Code)
		}
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
	}
}

// Execute runs matching for the request and enqueues one notification job
// per matched donor. A job that fails to enqueue is logged and skipped.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.RequestID == "" {
		return nil, apperrors.NewValidationError("requestId", "requestId is required")
	}

	opts := matching.Options{
		Mode:          h.config.Mode,
		Limit:         h.config.Limit,
		MaxDistanceKm: h.config.MaxDistanceKm,
	}
	if input.Mode != "" {
		mode, err := geo.ParseMode(input.Mode)
		if err != nil {
			return nil, err
		}
		opts.Mode = mode
	}
	if input.MaxDistanceKm > 0 {
		opts.MaxDistanceKm = input.MaxDistanceKm
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	req, err := h.requests.GetRequest(ctx, input.RequestID)
	if errors.Is(err, offers.ErrNotFound) {
		return nil, apperrors.NewRequestNotFoundError(input.RequestID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_request", err)
	}

	result, err := h.matcher.FindMatchesForRequest(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	out := &Output{
		RequestID: req.ID,
		Matched:   len(result.Matches),
		JobIDs:    []string{},
		Degraded:  result.Degraded,
		Source:    result.Source,
		Message:   result.Message,
	}

	queue := dispatch.QueueFor(req.Urgency)
	for _, m := range result.Matches {
		handle, err := h.jobs.Enqueue(dispatch.Job{
			Queue:      queue,
			Type:       h.config.Channel,
			Recipient:  m.Donor.UserID,
			TemplateID: models.TemplateDonorMatch,
			Priority:   models.PriorityForUrgency(req.Urgency),
			RequestID:  req.ID,
			Data: map[string]interface{}{
				"requestId":  req.ID,
				"bloodType":  req.BloodType.String(),
				"urgency":    req.Urgency.String(),
				"units":      req.UnitsNeeded,
				"distanceKm": math.Round(m.DistanceMeters/10) / 100,
			},
		})
		if err != nil {
			h.logger.Warn("enqueue donor notification failed", map[string]interface{}{
				"requestId": req.ID,
				"donorId":   m.Donor.ID,
				"error":     err,
			})
			continue
		}
		out.JobIDs = append(out.JobIDs, string(handle))
	}
	out.Notified = len(out.JobIDs)

	h.logger.Info("donors notified", map[string]interface{}{
		"requestId": req.ID,
		"matched":   out.Matched,
		"notified":  out.Notified,
		"queue":     queue,
		"degraded":  out.Degraded,
	})
	return out, nil
}
