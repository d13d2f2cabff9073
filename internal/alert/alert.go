// Package alert implements the alert publisher (C14): fire-and-forget
// notification of security findings to an external topic, falling back
// to a structured log line when no topic is configured.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/dynamoworks/gateway/internal/scanner"
)

// AlertContext carries the request metadata an alert is about.
type AlertContext struct {
	RequestID string
	UserID    string
	UserEmail string
	Route     string
}

// Alert is a security-finding notification.
type Alert struct {
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Context   AlertContext      `json:"context"`
	Findings  []scanner.Finding `json:"findings"`
}

// Severity returns "high" if any finding is high severity, else
// "medium".
func Severity(findings []scanner.Finding) string {
	for _, f := range findings {
		if f.Severity == scanner.SeverityHigh {
			return "high"
		}
	}
	return "medium"
}

// snsClient is the slice of the SNS API the publisher depends on,
// satisfied by *sns.Client.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes alerts to an SNS topic when configured, else logs
// them as a warning. A zero-value Publisher (nil client, empty
// topicARN) is always valid and degrades to log-only.
type Publisher struct {
	client   snsClient
	topicARN string
}

// New builds a Publisher. topicARN empty means "not configured";
// client may be nil in that case.
func New(client snsClient, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// Configured reports whether an external topic is wired.
func (p *Publisher) Configured() bool {
	return p != nil && p.client != nil && p.topicARN != ""
}

// Publish sends the alert. Never blocks the caller on a hard failure:
// publish errors are logged and swallowed, matching every other
// optional dependency's degrade-gracefully contract in this service.
// Callers invoke this in its own goroutine; Publish itself does not
// spawn one; Context should already carry context.WithoutCancel when
// called post-response.
func (p *Publisher) Publish(ctx context.Context, a Alert) {
	if !p.Configured() {
		slog.LogAttrs(ctx, slog.LevelWarn, "security alert (no topic configured)",
			slog.String("type", a.Type),
			slog.String("severity", a.Severity),
			slog.String("request_id", a.Context.RequestID),
			slog.String("route", a.Context.Route),
			slog.Int("findings", len(a.Findings)),
		)
		return
	}

	body, err := json.Marshal(a)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "alert marshal failed",
			slog.String("error", err.Error()))
		return
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.Severity),
			},
		},
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "alert publish failed",
			slog.String("request_id", a.Context.RequestID),
			slog.String("error", err.Error()))
	}
}
