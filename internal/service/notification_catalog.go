package service

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kpessa/delphi-webapp/internal/models"
)

//go:embed templates/notifications.yaml
var notificationTemplatesYAML []byte

// TemplateVars are the values notification templates may reference
type TemplateVars struct {
	TopicTitle     string
	PanelName      string
	RoundNumber    int
	ConsensusLevel int
	FeedbackType   string
	InviterName    string
}

type templateSource struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

type notificationTemplate struct {
	title   *template.Template
	message *template.Template
}

// NotificationCatalog renders titles and messages per notification type
type NotificationCatalog struct {
	templates map[models.NotificationType]notificationTemplate
}

// DefaultNotificationCatalog parses the embedded template catalog
func DefaultNotificationCatalog() (*NotificationCatalog, error) {
	return ParseNotificationCatalog(notificationTemplatesYAML)
}

// ParseNotificationCatalog decodes a YAML catalog. Every known notification
// type must have a non-empty title and message template.
func ParseNotificationCatalog(data []byte) (*NotificationCatalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("notification catalog is empty")
	}

	var raw map[string]templateSource
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode notification catalog: %w", err)
	}

	catalog := &NotificationCatalog{templates: make(map[models.NotificationType]notificationTemplate, len(raw))}
	for _, t := range models.NotificationTypes {
		src, ok := raw[string(t)]
		if !ok || strings.TrimSpace(src.Title) == "" || strings.TrimSpace(src.Message) == "" {
			return nil, fmt.Errorf("notification catalog is missing templates for %s", t)
		}

		title, err := template.New(string(t) + ".title").Parse(src.Title)
		if err != nil {
			return nil, fmt.Errorf("invalid title template for %s: %w", t, err)
		}
		message, err := template.New(string(t) + ".message").Parse(src.Message)
		if err != nil {
			return nil, fmt.Errorf("invalid message template for %s: %w", t, err)
		}
		catalog.templates[t] = notificationTemplate{title: title, message: message}
	}

	return catalog, nil
}

// Render produces the title and message of a notification of type t
func (c *NotificationCatalog) Render(t models.NotificationType, vars TemplateVars) (string, string, error) {
	tmpl, ok := c.templates[t]
	if !ok {
		return "", "", fmt.Errorf("no template for notification type %q", t)
	}

	var title, message strings.Builder
	if err := tmpl.title.Execute(&title, vars); err != nil {
		return "", "", fmt.Errorf("failed to render title for %s: %w", t, err)
	}
	if err := tmpl.message.Execute(&message, vars); err != nil {
		return "", "", fmt.Errorf("failed to render message for %s: %w", t, err)
	}
	return title.String(), message.String(), nil
}
