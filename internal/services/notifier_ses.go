package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// sesAPI is the part of the SES client the notifier uses
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails the security team through AWS SES
type SESNotifier struct {
	client      sesAPI
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS configuration for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESNotifier(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

func newSESNotifier(client sesAPI, fromAddress string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

func (n *SESNotifier) Name() string { return "ses" }

// NotifySuspiciousActivity sends one alert email. The identity is masked in the body.
func (n *SESNotifier) NotifySuspiciousActivity(ctx context.Context, a models.SuspiciousActivity) error {
	identity := pkglogger.SanitizedIdentity(a.Identity)
	ip := a.IPAddress
	if ip == "" {
		ip = "unknown"
	}
	lockedUntil := a.LockedUntil.UTC().Format(time.RFC1123)

	textBody := fmt.Sprintf(`Suspicious authentication activity

Identity: %s
Flow: %s
Failed attempts in window: %d
Source address: %s
Locked for: %s (until %s)

This is an automated message from the authentication security service.
`, identity, a.Kind, a.FailedAttempts, ip, a.LockoutDuration, lockedUntil)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2>Suspicious authentication activity</h2>
    <table>
        <tr><td><strong>Identity</strong></td><td>%s</td></tr>
        <tr><td><strong>Flow</strong></td><td>%s</td></tr>
        <tr><td><strong>Failed attempts</strong></td><td>%d</td></tr>
        <tr><td><strong>Source address</strong></td><td>%s</td></tr>
        <tr><td><strong>Locked for</strong></td><td>%s (until %s)</td></tr>
    </table>
    <p style="color: #666; font-size: 12px;">This is an automated message from the authentication security service.</p>
</body>
</html>
`, html.EscapeString(identity), a.Kind, a.FailedAttempts, ip, a.LockoutDuration, lockedUntil)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[security] %s lockout after %d failed attempts", a.Kind, a.FailedAttempts)),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("suspicious activity email sent",
		slog.String("identity", identity),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
