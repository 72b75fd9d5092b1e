// Package ses delivers notifications as plain-text email through Amazon SES v2.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/phrazzld/sendnforget/internal/delivery"
)

// EmailAPI is the subset of the SES v2 client used by Sender.
type EmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender implements delivery.Sender with SES.
type Sender struct {
	client      EmailAPI
	fromAddress string
}

// NewSender creates a Sender. An empty fromAddress is accepted; every Send
// then fails with delivery.ErrNotConfigured.
func NewSender(client EmailAPI, fromAddress string) *Sender {
	return &Sender{client: client, fromAddress: fromAddress}
}

// NewSenderFromRegion loads the default AWS credential chain for region and
// builds a Sender on top of it.
func NewSenderFromRegion(ctx context.Context, region, fromAddress string) (*Sender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSender(sesv2.NewFromConfig(awsCfg), fromAddress), nil
}

// Send implements delivery.Sender.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if s.fromAddress == "" {
		return fmt.Errorf("%w: mail.from_address is not set", delivery.ErrNotConfigured)
	}
	if s.client == nil {
		return fmt.Errorf("%w: no SES client", delivery.ErrNotConfigured)
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("SES send failed: %w", err)
	}
	return nil
}

var _ delivery.Sender = (*Sender)(nil)
