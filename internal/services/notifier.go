package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Notification template keys. Content rendering belongs to the
// downstream mail pipeline; this engine only names the template and
// supplies variables.
const (
	TemplateAccountLocked        = "ACCOUNT_LOCKED"
	TemplateNewDeviceLogin       = "NEW_DEVICE_LOGIN"
	TemplateEmergencyCodesIssued = "EMERGENCY_CODES_ISSUED"
	TemplateSecondFactorReset    = "SECOND_FACTOR_RESET"
	TemplateSecurityAlert        = "SECURITY_ALERT"
)

// Notifier sends templated notifications. The engine treats every send
// as fire-and-forget: failures are logged by callers and never propagate
// into an authentication decision.
type Notifier interface {
	Send(ctx context.Context, templateKey, recipient string, variables map[string]string) error
}

var templateSubjects = map[string]string{
	TemplateAccountLocked:        "Your account has been temporarily locked",
	TemplateNewDeviceLogin:       "New sign-in to your account",
	TemplateEmergencyCodesIssued: "Emergency access codes were issued for your account",
	TemplateSecondFactorReset:    "Your two-factor authentication was reset",
	TemplateSecurityAlert:        "Security alert",
}

// AWSSESNotifier sends notifications using AWS SES
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates a new AWS SES notifier
func NewAWSSESNotifier(region, fromAddress string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Send delivers one templated notification via SES
func (n *AWSSESNotifier) Send(ctx context.Context, templateKey, recipient string, variables map[string]string) error {
	subject, ok := templateSubjects[templateKey]
	if !ok {
		return fmt.Errorf("unknown notification template: %s", templateKey)
	}

	// Deterministic variable ordering for the plain-text body
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body strings.Builder
	body.WriteString(subject)
	body.WriteString("\n\n")
	for _, k := range keys {
		fmt.Fprintf(&body, "%s: %s\n", k, variables[k])
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body.String()),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send notification via SES",
			slog.String("template", templateKey),
			slog.Any("error", err))
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.logger.Info("notification sent",
		slog.String("template", templateKey),
		slog.String("message_id", *result.MessageId))

	return nil
}
