package sender

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/bulkpost/internal/mailing"
)

// SESSender delivers mail through AWS SES (SDK v2). Attachments are not
// supported on this transport; use SMTP for mailings that need them.
type SESSender struct {
	client *sesv2.Client
	from   string
}

// NewSESSender creates an SES transport with static credentials.
func NewSESSender(ctx context.Context, accessKey, secretKey, region, from string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

// SendEmail delivers the email through the SES API.
func (s *SESSender) SendEmail(ctx context.Context, email *mailing.Email) error {
	to := make([]string, len(email.Receivers))
	for i, rcv := range email.Receivers {
		to[i] = rcv.Email
	}

	message := &types.Message{
		Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
		Body: &types.Body{
			Html: &types.Content{Data: aws.String(email.HTML), Charset: aws.String("UTF-8")},
		},
	}
	for name, value := range email.Headers {
		message.Headers = append(message.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: to},
		Content:          &types.EmailContent{Simple: message},
	}
	if email.ReplyTo != "" {
		input.ReplyToAddresses = []string{email.ReplyTo}
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
