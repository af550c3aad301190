// Package tracker implements the delivery-event ingestion pipeline: an
// async SQS publisher for delivery events, and a consumer
// that long-polls the queue and applies each DeliveryEvent to the
// corresponding ScheduledMessage, plus durable storage for rendered-message
// variation selections (VariationLogEntry) used by the distribution report.
package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// Publisher fire-and-forgets DeliveryEvents onto an SQS queue so its caller
// can return immediately without waiting on downstream processing. The
// gateway's webhook handler does not use it; cmd/server applies webhook
// events directly.
type Publisher struct {
	client   *sqs.Client
	queueURL string
}

func NewPublisher(client *sqs.Client, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish marshals evt and sends it in a background goroutine with its own
// bounded timeout, independent of the caller's request context.
func (p *Publisher) Publish(evt domain.DeliveryEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("tracker: marshal delivery event failed", "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("tracker: publish to SQS failed", "error", err.Error())
		}
	}()
}
