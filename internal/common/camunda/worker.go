// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"bloodlink/internal/common/config"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is implemented by every task worker handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type CamundaWorker struct {
	client   zbc.Client
	handler  JobHandler
	cfg      config.WorkerConfig
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(
	client zbc.Client,
	taskType string,
	cfg config.WorkerConfig,
	handler JobHandler,
	log logger.Logger,
) *CamundaWorker {
	return &CamundaWorker{
		client:   client,
		handler:  handler,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"taskType": taskType}),
		taskType: taskType,
	}
}

// Start opens the job worker. Job duration is recorded per task type.
func (w *CamundaWorker) Start() {
	w.worker = w.client.NewJobWorker().
		JobType(w.taskType).
		Handler(func(client worker.JobClient, job entities.Job) {
			start := time.Now()
			w.handler.Handle(client, job)
			metrics.WorkerJobDuration.WithLabelValues(w.taskType).Observe(time.Since(start).Seconds())
		}).
		MaxJobsActive(w.cfg.MaxJobsActive).
		Timeout(config.GetDuration(w.cfg.Timeout)).
		Open()

	w.logger.Info("Worker started", map[string]interface{}{
		"maxJobsActive": w.cfg.MaxJobsActive,
		"timeoutMs":     w.cfg.Timeout,
	})
}

// Stop closes the job worker; the shared client is closed by its owner.
func (w *CamundaWorker) Stop() {
	if w.worker == nil {
		return
	}
	w.logger.Info("Stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
