// Package email sends transactional mail through an HTTP email provider.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

var (
	ErrMissingAPIKey = errors.New("email provider api key not configured")
	ErrInvalidAPIKey = errors.New("email provider rejected api key")
	ErrProvider      = errors.New("email provider error")
)

// Config holds the provider configuration
type Config struct {
	APIURL       string
	APIKey       string
	From         string
	FromName     string
	SupportEmail string
	PortalURL    string
}

// Service sends email through the provider's REST API
type Service struct {
	config Config
	client *http.Client
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// IsConfigured returns true if the provider can be called
func (s *Service) IsConfigured() bool {
	return s.config.APIKey != "" && s.config.From != ""
}

// Message is one outbound email
type Message struct {
	To      []string `json:"to"`
	BCC     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	From    string   `json:"from"`
}

// Send posts one message to the provider API.
func (s *Service) Send(ctx context.Context, msg Message) error {
	if s.config.APIKey == "" {
		return ErrMissingAPIKey
	}

	msg.From = s.config.From
	if s.config.FromName != "" {
		msg.From = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrInvalidAPIKey
	default:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("%w: %s", ErrProvider, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
}

// NotificationData fills the publish notification template. Fields are
// caller-supplied strings; html/template escapes them on render.
type NotificationData struct {
	CompanyName  string
	DocumentName string
	DocumentType string
	ProjectName  string
	PortalURL    string
}

// SendUpdateNotification tells one company a document was published to one
// of its projects. Admin addresses ride along as BCC.
func (s *Service) SendUpdateNotification(ctx context.Context, to string, bcc []string, data NotificationData) error {
	if data.PortalURL == "" {
		data.PortalURL = s.config.PortalURL
	}
	html, err := renderTemplate(updateNotificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}
	return s.Send(ctx, Message{
		To:      []string{to},
		BCC:     bcc,
		Subject: fmt.Sprintf("Nuevo documento disponible: %s", data.DocumentName),
		HTML:    html,
	})
}

// SupportRequest is a support form submission
type SupportRequest struct {
	UserEmail string
	UserName  string
	Subject   string
	Message   string
}

// SendSupportEmail forwards a support request to the support inbox and
// sends a confirmation copy to the requesting user. The confirmation is
// best-effort: a failure there does not fail the request.
func (s *Service) SendSupportEmail(ctx context.Context, req SupportRequest) error {
	if s.config.SupportEmail == "" {
		return fmt.Errorf("%w: support address not configured", ErrProvider)
	}

	supportHTML, err := renderTemplate(supportEmailTemplate, req)
	if err != nil {
		return fmt.Errorf("render support template: %w", err)
	}
	if err := s.Send(ctx, Message{
		To:      []string{s.config.SupportEmail},
		Subject: fmt.Sprintf("Soporte: %s", req.Subject),
		HTML:    supportHTML,
	}); err != nil {
		return err
	}

	confirmationHTML, err := renderTemplate(supportConfirmationTemplate, req)
	if err != nil {
		return fmt.Errorf("render confirmation template: %w", err)
	}
	return s.Send(ctx, Message{
		To:      []string{req.UserEmail},
		Subject: "Hemos recibido tu consulta",
		HTML:    confirmationHTML,
	})
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const updateNotificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Nuevo documento disponible</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .detail { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>SmartClarity</h1>
    </div>

    <h2>Hola, {{.CompanyName}}</h2>

    <p>Se ha publicado un nuevo documento en tu portal:</p>

    <div class="detail">
        <p><strong>Documento:</strong> {{.DocumentName}}</p>
        <p><strong>Tipo:</strong> {{.DocumentType}}</p>
        <p><strong>Proyecto:</strong> {{.ProjectName}}</p>
    </div>

    <p>
        <a href="{{.PortalURL}}" class="button">Ver documento</a>
    </p>

    <div class="footer">
        <p>Este es un mensaje automático. Si tienes dudas, responde a este correo.</p>
    </div>
</body>
</html>`

const supportEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Consulta de soporte</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Consulta de soporte</h1>
    </div>

    <div class="detail">
        <p><strong>De:</strong> {{.UserName}} ({{.UserEmail}})</p>
        <p><strong>Asunto:</strong> {{.Subject}}</p>
    </div>

    <p>{{.Message}}</p>
</body>
</html>`

const supportConfirmationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Hemos recibido tu consulta</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>SmartClarity</h1>
    </div>

    <h2>Hola, {{.UserName}}</h2>

    <p>Hemos recibido tu consulta y te responderemos lo antes posible.</p>

    <div class="detail">
        <p><strong>Asunto:</strong> {{.Subject}}</p>
        <p>{{.Message}}</p>
    </div>

    <div class="footer">
        <p>Este es un mensaje automático de confirmación.</p>
    </div>
</body>
</html>`
