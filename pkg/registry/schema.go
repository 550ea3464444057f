// pkg/registry/schema.go
package registry

// TemplateRegistry is the on-disk catalogue of notification templates.
type TemplateRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Templates   []Template `json:"templates"`
}

// Template holds the text for every channel a notification may go out on.
// Placeholders use the {{key}} or {{nested.key}} form.
type Template struct {
	ID          string                 `json:"id"`
	DisplayName string                 `json:"displayName"`
	Description string                 `json:"description"`
	Channels    []string               `json:"channels"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	SMS         string                 `json:"sms,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Version     string                 `json:"version"`
	Tags        []string               `json:"tags,omitempty"`
}

// Allows reports whether the template may be sent on channel.
func (t *Template) Allows(channel string) bool {
	for _, c := range t.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// SMSText falls back to the body when no short form is given.
func (t *Template) SMSText() string {
	if t.SMS != "" {
		return t.SMS
	}
	return t.Body
}
