// internal/workers/notification/send-notification/handler.go
package sendnotification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonaws "bloodlink/internal/common/aws"
	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/models"
	"bloodlink/pkg/registry"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType = "send-notification"

	contactCachePrefix = "contact:"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Handler delivers one templated notification over SES or SNS. It serves as
// the dispatch pipeline's channel and as the send-notification task worker.
type Handler struct {
	config       *Config
	db           *sql.DB
	redis        redis.Cmdable
	logger       logger.Logger
	sesClient    SESService
	snsClient    SNSService
	templates    *registry.Store
	errorHandler *apperrors.ErrorHandler
}

// NewHandler builds a handler with AWS clients from the default credential
// chain. rdb may be nil to disable the contact cache.
func NewHandler(config *Config, db *sql.DB, rdb redis.Cmdable, templates *registry.Store, log logger.Logger) (*Handler, error) {
	clients, err := commonaws.NewClients(context.Background(), config.AWSRegion)
	if err != nil {
		return nil, err
	}
	return NewHandlerWithClients(config, db, rdb, templates, clients.SES, clients.SNS, log), nil
}

func NewHandlerWithClients(config *Config, db *sql.DB, rdb redis.Cmdable, templates *registry.Store, sesClient SESService, snsClient SNSService, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		db:           db,
		redis:        rdb,
		logger:       l,
		sesClient:    sesClient,
		snsClient:    snsClient,
		templates:    templates,
		errorHandler: apperrors.NewErrorHandler(l),
	}
}

// Deliver implements dispatch.Channel.
func (h *Handler) Deliver(ctx context.Context, msg dispatch.Message) error {
	_, err := h.execute(ctx, &Input{
		RecipientID: msg.Recipient,
		Channel:     msg.Type,
		TemplateID:  msg.TemplateID,
		Data:        msg.Data,
	})
	return err
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

	output, err := h.execute(ctx, &input)
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
	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.RecipientID == "" {
		return nil, apperrors.NewValidationError("recipientId", "recipientId is required")
	}
	if !input.Channel.Valid() {
		return nil, apperrors.NewValidationError("channel", fmt.Sprintf("unknown channel %q", input.Channel))
	}

	template, err := h.templates.Get(input.TemplateID)
	if err != nil {
		if errors.Is(err, registry.ErrTemplateNotFound) {
			return nil, apperrors.NewTemplateNotFoundError(input.TemplateID)
		}
		return nil, apperrors.NewInternalError(err)
	}
	if !template.Allows(string(input.Channel)) {
		return nil, apperrors.NewValidationError("channel",
			fmt.Sprintf("template %s does not allow channel %s", template.ID, input.Channel))
	}
	if err := template.ValidateData(input.Data); err != nil {
		return nil, apperrors.NewTemplateValidationFailedError(err.Error())
	}

	output := &Output{
		NotificationID: uuid.New().String(),
		Channel:        string(input.Channel),
		Status:         StatusDisabled,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	contact, err := h.getRecipientContact(ctx, input.RecipientID)
	if err != nil {
		return nil, err
	}

	switch input.Channel {
	case models.ChannelEmail:
		if !h.config.EmailEnabled {
			h.logger.Warn("email channel disabled", map[string]interface{}{
				"recipientId": input.RecipientID,
				"templateId":  input.TemplateID,
			})
			return output, nil
		}
		if contact.Email == "" {
			return nil, apperrors.NewValidationError("recipientId",
				fmt.Sprintf("recipient %s has no email address", input.RecipientID))
		}
		subject := registry.Render(template.Subject, input.Data)
		body := registry.Render(template.Body, input.Data)
		if err := h.sendEmail(ctx, contact.Email, subject, body); err != nil {
			return nil, apperrors.NewNotificationSendFailedError("email", err)
		}

	case models.ChannelSMS:
		if !h.config.SMSEnabled {
			h.logger.Warn("sms channel disabled", map[string]interface{}{
				"recipientId": input.RecipientID,
				"templateId":  input.TemplateID,
			})
			return output, nil
		}
		if contact.Phone == "" {
			return nil, apperrors.NewValidationError("recipientId",
				fmt.Sprintf("recipient %s has no phone number", input.RecipientID))
		}
		if err := h.sendSMS(ctx, contact.Phone, registry.Render(template.SMSText(), input.Data)); err != nil {
			return nil, apperrors.NewNotificationSendFailedError("sms", err)
		}
	}

	output.Status = StatusSent
	h.logger.Debug("notification sent", map[string]interface{}{
		"notificationId": output.NotificationID,
		"recipientId":    input.RecipientID,
		"channel":        output.Channel,
		"templateId":     input.TemplateID,
	})
	return output, nil
}

// getRecipientContact reads the contact through the redis cache when one is
// configured. Cache failures fall through to the database.
func (h *Handler) getRecipientContact(ctx context.Context, recipientID string) (*models.Contact, error) {
	cacheKey := contactCachePrefix + recipientID
	if h.redis != nil {
		if cached, err := h.redis.Get(ctx, cacheKey).Result(); err == nil {
			var c models.Contact
			if json.Unmarshal([]byte(cached), &c) == nil {
				return &c, nil
			}
		} else if err != redis.Nil {
			h.logger.Warn("contact cache read failed", map[string]interface{}{"error": err})
		}
	}

	var email, phone sql.NullString
	err := h.db.QueryRowContext(ctx, `SELECT email, phone FROM users WHERE id = $1`, recipientID).Scan(&email, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewRecipientNotFoundError(recipientID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("contact_lookup", err)
	}

	c := &models.Contact{UserID: recipientID, Email: email.String, Phone: phone.String}
	if h.redis != nil {
		if data, err := json.Marshal(c); err == nil {
			if err := h.redis.Set(ctx, cacheKey, data, h.config.ContactCacheTTL).Err(); err != nil {
				h.logger.Warn("contact cache write failed", map[string]interface{}{"error": err})
			}
		}
	}
	return c, nil
}

func (h *Handler) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := h.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(h.config.FromEmail),
	})
	return err
}

func (h *Handler) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if h.config.SMSSenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(h.config.SMSSenderID),
			},
		}
	}
	_, err := h.snsClient.Publish(ctx, input)
	return err
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

var _ dispatch.Channel = (*Handler)(nil)
