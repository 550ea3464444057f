// internal/workers/notification/send-notification/models.go
package sendnotification

import "bloodlink/internal/models"

type Input struct {
	RecipientID string                 `json:"recipientId"`
	Channel     models.Channel         `json:"channel"`
	TemplateID  string                 `json:"templateId"`
	RequestID   string                 `json:"requestId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

type Output struct {
	NotificationID string `json:"notificationId"`
	Channel        string `json:"channel"`
	Status         string `json:"status"` // "sent", "disabled"
	SentAt         string `json:"sentAt"` // ISO 8601
}

// Statuses
const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
)
