// Package notify publishes best-effort ingestion events to the fan-out
// channel that feeds UI subscribers. Storage is authoritative; a lost
// notification only delays a refresh.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// Publisher sends one event to the fan-out channel.
type Publisher interface {
	Publish(ctx context.Context, site string, data any) error
}

// envelope is the wire shape consumers expect.
type envelope struct {
	Topic string `json:"topic"`
	Site  string `json:"site"`
	Data  any    `json:"data"`
}

// SQSPublisher implements Publisher over an SQS queue.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
	topic    string
}

// NewSQSPublisher resolves the queue URL once and returns a publisher that
// wraps every payload in the {topic, site, data} envelope.
func NewSQSPublisher(ctx context.Context, client *sqs.Client, queueName, topic string) (*SQSPublisher, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve queue url for %s: %w", queueName, err)
	}

	return &SQSPublisher{
		client:   client,
		queueURL: aws.ToString(out.QueueUrl),
		topic:    topic,
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, site string, data any) error {
	body, err := json.Marshal(envelope{
		Topic: p.topic,
		Site:  site,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event-id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(uuid.NewString()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
