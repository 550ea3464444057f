// internal/models/notification.go
package models

// Channel is the delivery medium for a notification job.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Notification templates posted by the matching and offer flows.
const (
	TemplateDonorMatch    = "donor-match"
	TemplateOfferReceived = "offer-received"
	TemplateOfferAccepted = "offer-accepted"
	TemplateOfferRejected = "offer-rejected"
)

// Contact is the delivery address book entry for an account.
type Contact struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// Notification is the outcome of one channel delivery.
type Notification struct {
	ID         string  `json:"notificationId"`
	Recipient  string  `json:"recipient"`
	TemplateID string  `json:"templateId"`
	Channel    Channel `json:"channel"`
	Status     string  `json:"status"` // "sent", "disabled"
	SentAt     string  `json:"sentAt"`
}

// PriorityForUrgency maps request urgency onto a job priority class.
func PriorityForUrgency(u Urgency) int {
	if !u.Valid() {
		return int(UrgencyLow)
	}
	return int(u)
}
