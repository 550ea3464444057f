// internal/workers/notification/send-notification/handler_test.go
package sendnotification

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/models"
	"bloodlink/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	calls         int
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls++
	if m.SendEmailFunc == nil {
		return &ses.SendEmailOutput{}, nil
	}
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       int
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	if m.PublishFunc == nil {
		return &sns.PublishOutput{}, nil
	}
	return m.PublishFunc(ctx, params, optFns...)
}

// ==========================
// Test Helper Functions
// ==========================

const contactQuery = `SELECT email, phone FROM users WHERE id = \$1`

func createTestConfig() *Config {
	return &Config{
		EmailEnabled:    true,
		SMSEnabled:      true,
		FromEmail:       "noreply@bloodlink.org",
		SMSSenderID:     "BLOODLINK",
		AWSRegion:       "us-east-1",
		ContactCacheTTL: time.Minute,
		Timeout:         5 * time.Second,
	}
}

func testTemplates(t *testing.T) *registry.Store {
	t.Helper()
	reg, err := registry.Parse([]byte(`{
		"templates": [
			{
				"id": "donor-match",
				"channels": ["email", "sms"],
				"subject": "{{bloodType}} donors needed",
				"body": "A {{urgency}} request {{distanceKm}} km away needs {{bloodType}}.",
				"sms": "{{bloodType}} needed {{distanceKm}} km away",
				"schema": {"type": "object", "required": ["bloodType"]}
			},
			{
				"id": "offer-accepted",
				"channels": ["email"],
				"subject": "Offer accepted",
				"body": "Thanks for offering to donate."
			}
		]
	}`))
	require.NoError(t, err)
	return registry.NewStaticStore(reg)
}

func createTestInput(channel models.Channel) *Input {
	return &Input{
		RecipientID: "user-001",
		Channel:     channel,
		TemplateID:  "donor-match",
		Data: map[string]interface{}{
			"bloodType":  "O-",
			"urgency":    "emergency",
			"distanceKm": 4.2,
		},
	}
}

func newHandler(t *testing.T, db *sql.DB, rdb redis.Cmdable, sesMock *MockSESService, snsMock *MockSNSService) *Handler {
	return NewHandlerWithClients(createTestConfig(), db, rdb, testTemplates(t), sesMock, snsMock, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Email(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(contactQuery).
		WithArgs("user-001").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", "+1234567890"))

	sesMock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			assert.Equal(t, "donor@example.com", params.Destination.ToAddresses[0])
			assert.Equal(t, "noreply@bloodlink.org", *params.Source)
			assert.Equal(t, "O- donors needed", *params.Message.Subject.Data)
			assert.Equal(t, "A emergency request 4.20 km away needs O-.", *params.Message.Body.Text.Data)
			return &ses.SendEmailOutput{}, nil
		},
	}
	snsMock := &MockSNSService{}

	h := newHandler(t, db, nil, sesMock, snsMock)
	out, err := h.Execute(context.Background(), createTestInput(models.ChannelEmail))

	require.NoError(t, err)
	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, "email", out.Channel)
	assert.NotEmpty(t, out.NotificationID)
	assert.Equal(t, 1, sesMock.calls)
	assert.Zero(t, snsMock.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_SMS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(contactQuery).
		WithArgs("user-001").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", "+1234567890"))

	snsMock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			assert.Equal(t, "+1234567890", *params.PhoneNumber)
			assert.Equal(t, "O- needed 4.20 km away", *params.Message)
			assert.Equal(t, "BLOODLINK", *params.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
			return &sns.PublishOutput{}, nil
		},
	}

	h := newHandler(t, db, nil, &MockSESService{}, snsMock)
	out, err := h.Execute(context.Background(), createTestInput(models.ChannelSMS))

	require.NoError(t, err)
	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, 1, snsMock.calls)
}

func TestHandler_Execute_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		channel models.Channel
		email   string
		phone   interface{}
		mutate  func(c *Config)
	}{
		{name: "email channel off", channel: models.ChannelEmail, email: "a@b.c", phone: "+1", mutate: func(c *Config) { c.EmailEnabled = false }},
		{name: "sms channel off", channel: models.ChannelSMS, email: "a@b.c", phone: "+1", mutate: func(c *Config) { c.SMSEnabled = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(contactQuery).
				WithArgs("user-001").
				WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow(tt.email, tt.phone))

			sesMock, snsMock := &MockSESService{}, &MockSNSService{}
			h := newHandler(t, db, nil, sesMock, snsMock)
			tt.mutate(h.config)

			out, err := h.Execute(context.Background(), createTestInput(tt.channel))
			require.NoError(t, err)
			assert.Equal(t, StatusDisabled, out.Status)
			assert.Zero(t, sesMock.calls+snsMock.calls)
		})
	}
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     func() *Input
		setupDB   func(mock sqlmock.Sqlmock)
		sesErr    error
		code      apperrors.ErrorCode
		retryable bool
	}{
		{
			name:  "unknown template",
			input: func() *Input { in := createTestInput(models.ChannelEmail); in.TemplateID = "nope"; return in },
			code:  apperrors.ErrCodeTemplateNotFound,
		},
		{
			name:  "channel not allowed by template",
			input: func() *Input { in := createTestInput(models.ChannelSMS); in.TemplateID = "offer-accepted"; return in },
			code:  apperrors.ErrCodeValidationFailed,
		},
		{
			name:  "data fails template schema",
			input: func() *Input { in := createTestInput(models.ChannelEmail); delete(in.Data, "bloodType"); return in },
			code:  apperrors.ErrCodeTemplateValidationFailed,
		},
		{
			name:  "unknown channel",
			input: func() *Input { in := createTestInput("fax"); return in },
			code:  apperrors.ErrCodeValidationFailed,
		},
		{
			name:  "recipient missing",
			input: func() *Input { return createTestInput(models.ChannelEmail) },
			setupDB: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(contactQuery).WithArgs("user-001").WillReturnError(sql.ErrNoRows)
			},
			code: apperrors.ErrCodeRecipientNotFound,
		},
		{
			name:  "no email on file",
			input: func() *Input { return createTestInput(models.ChannelEmail) },
			setupDB: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(contactQuery).WithArgs("user-001").
					WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow(nil, "+15550100"))
			},
			code: apperrors.ErrCodeValidationFailed,
		},
		{
			name:  "no phone on file",
			input: func() *Input { return createTestInput(models.ChannelSMS) },
			setupDB: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(contactQuery).WithArgs("user-001").
					WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", nil))
			},
			code: apperrors.ErrCodeValidationFailed,
		},
		{
			name:  "database down",
			input: func() *Input { return createTestInput(models.ChannelEmail) },
			setupDB: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(contactQuery).WithArgs("user-001").WillReturnError(errors.New("connection reset"))
			},
			code:      apperrors.ErrCodeQueryExecutionFailed,
			retryable: true,
		},
		{
			name:  "ses failure is transient",
			input: func() *Input { return createTestInput(models.ChannelEmail) },
			setupDB: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(contactQuery).WithArgs("user-001").
					WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", "+1"))
			},
			sesErr:    errors.New("SES service unavailable"),
			code:      apperrors.ErrCodeNotificationSendFailed,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			if tt.setupDB != nil {
				tt.setupDB(mock)
			}

			sesMock := &MockSESService{
				SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
					return nil, tt.sesErr
				},
			}
			h := newHandler(t, db, nil, sesMock, &MockSNSService{})

			out, err := h.Execute(context.Background(), tt.input())
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHandler_ContactCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(contactQuery).
		WithArgs("user-001").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", "+1"))

	sesMock := &MockSESService{}
	h := newHandler(t, db, rdb, sesMock, &MockSNSService{})

	for i := 0; i < 2; i++ {
		_, err := h.Execute(context.Background(), createTestInput(models.ChannelEmail))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, sesMock.calls)
	assert.True(t, mr.Exists("contact:user-001"))
	assert.NoError(t, mock.ExpectationsWereMet(), "second send is served from cache")
}

func TestHandler_DeliverAsChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(contactQuery).
		WithArgs("user-001").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow("donor@example.com", "+1"))

	sesMock := &MockSESService{}
	var ch dispatch.Channel = newHandler(t, db, nil, sesMock, &MockSNSService{})

	err = ch.Deliver(context.Background(), dispatch.Message{
		JobID:      "job-1",
		Type:       models.ChannelEmail,
		Recipient:  "user-001",
		TemplateID: "donor-match",
		Data:       map[string]interface{}{"bloodType": "AB-"},
		Attempt:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sesMock.calls)
}

func TestLoadConfig(t *testing.T) {
	cfg := configFixture()
	c := LoadConfig(cfg)

	assert.True(t, c.EmailEnabled)
	assert.Equal(t, "noreply@bloodlink.org", c.FromEmail)
	assert.Equal(t, 10*time.Minute, c.ContactCacheTTL)
	assert.Equal(t, 30*time.Second, c.Timeout)
}
