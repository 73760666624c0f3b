package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	log "github.com/sirupsen/logrus"
)

// Email is one outbound message
type Email struct {
	ToAddress string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// SendResult carries the provider's message ID. It is empty in dry-run mode.
type SendResult struct {
	MessageID string
}

// EmailSender delivers a single email
type EmailSender interface {
	Send(ctx context.Context, email Email) (SendResult, error)
}

// ProviderError is a non-success response from the email provider
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("email provider returned status %d: %s", e.StatusCode, e.Body)
}

// SendGridSender sends through the SendGrid v3 mail API
type SendGridSender struct {
	client    *sendgrid.Client
	http      *rest.Client
	fromEmail string
	fromName  string
}

// NewSendGridSender creates a sender. A nil httpClient uses the SendGrid default client.
func NewSendGridSender(apiKey, fromEmail, fromName string, httpClient *http.Client) *SendGridSender {
	restClient := rest.DefaultClient
	if httpClient != nil {
		restClient = &rest.Client{HTTPClient: httpClient}
	}

	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		http:      restClient,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send delivers email and returns the X-Message-Id SendGrid assigned
func (s *SendGridSender) Send(ctx context.Context, email Email) (SendResult, error) {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(email.ToName, email.ToAddress)
	message := mail.NewSingleEmail(from, email.Subject, to, email.PlainText, email.HTML)

	request := s.client.Request
	request.Body = mail.GetRequestBody(message)

	response, err := s.http.SendWithContext(ctx, request)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to send email to %s: %w", email.ToAddress, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, &ProviderError{StatusCode: response.StatusCode, Body: response.Body}
	}

	return SendResult{MessageID: http.Header(response.Headers).Get("X-Message-Id")}, nil
}

// LogOnlySender is the dry-run sink used when no API key is configured
type LogOnlySender struct{}

// Send logs the email and reports success without a message ID
func (LogOnlySender) Send(ctx context.Context, email Email) (SendResult, error) {
	log.WithFields(log.Fields{
		"to":      email.ToAddress,
		"subject": email.Subject,
		"bytes":   len(email.HTML),
	}).Info("Email provider not configured, skipping send")
	return SendResult{}, nil
}
