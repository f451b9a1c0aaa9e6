// Package services holds outward-facing integrations; currently the
// operator alert channel for detected password-spray campaigns.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAttackNotifier emails the operator when a password first crosses
// the popularity threshold. Alerts are best-effort: a failed send is
// logged and dropped, never retried on the login path.
type SESAttackNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESAttackNotifier creates a new SES-backed notifier
func NewSESAttackNotifier(region, fromAddress, toAddress string, logger *slog.Logger) (*SESAttackNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAttackNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

// PasswordUnderAttack sends the spray alert. Only the HMAC-derived
// popularity key is included; the password itself is never known to the
// popularity layer.
func (s *SESAttackNotifier) PasswordUnderAttack(ctx context.Context, popularityKey string, distinctAccounts int) {
	textBody := fmt.Sprintf(`A single password has been attempted against %d distinct accounts inside the popularity window.

Popularity key (HMAC of the password under the fleet pepper):
%s

Logins presenting this password are being refused even when the credentials are correct. Affected account owners will regain access once the spray subsides or after rotating their password.
`, distinctAccounts, popularityKey)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("Password spray detected: %d accounts, one password", distinctAccounts)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send attack alert via SES",
			slog.String("popularity_key", popularityKey),
			slog.Any("error", err))
		return
	}

	s.logger.Info("attack alert sent",
		slog.String("popularity_key", popularityKey),
		slog.Int("distinct_accounts", distinctAccounts),
		slog.String("message_id", *result.MessageId))
}

// LogOnlyAttackNotifier is used when alerting is not configured; the
// signal still lands in the structured log stream.
type LogOnlyAttackNotifier struct {
	logger *slog.Logger
}

// NewLogOnlyAttackNotifier creates a notifier that only logs
func NewLogOnlyAttackNotifier(logger *slog.Logger) *LogOnlyAttackNotifier {
	return &LogOnlyAttackNotifier{logger: logger}
}

func (s *LogOnlyAttackNotifier) PasswordUnderAttack(ctx context.Context, popularityKey string, distinctAccounts int) {
	s.logger.Warn("password spray detected",
		slog.String("popularity_key", popularityKey),
		slog.Int("distinct_accounts", distinctAccounts))
}
