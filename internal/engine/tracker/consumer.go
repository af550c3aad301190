package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// StatusUpdater applies a delivery-status transition keyed by the
// provider's message ID; implemented against the scheduled_messages table.
type StatusUpdater interface {
	ApplyDeliveryEvent(ctx context.Context, evt domain.DeliveryEvent) error
}

// Consumer long-polls the delivery-event queue and applies each event to
// its ScheduledMessage, one receipt batch at a time.
type Consumer struct {
	sqsClient *sqs.Client
	queueURL  string
	updater   StatusUpdater
	done      chan struct{}
}

func NewConsumer(sqsClient *sqs.Client, queueURL string, updater StatusUpdater) *Consumer {
	return &Consumer{sqsClient: sqsClient, queueURL: queueURL, updater: updater, done: make(chan struct{})}
}

func (c *Consumer) Start(ctx context.Context) {
	logger.Info("delivery-event consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

func (c *Consumer) Stop() { close(c.done) }

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("delivery-event receive failed", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt domain.DeliveryEvent
			if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
				logger.Error("delivery-event bad message", "error", err.Error())
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := c.updater.ApplyDeliveryEvent(ctx, evt); err != nil {
				logger.Error("delivery-event apply failed", "provider_message_id", evt.ProviderMessageID, "error", err.Error())
				continue
			}

			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, receipt *string) {
	_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		logger.Error("delivery-event delete failed", "error", err.Error())
	}
}

// PostgresStatusUpdater implements StatusUpdater against scheduled_messages,
// additionally projecting delivered/read status onto the matching
// variation_log row so report.Builder's delivery-rate stats stay current
// without a second round of event consumption.
type PostgresStatusUpdater struct{ db *sql.DB }

func NewPostgresStatusUpdater(db *sql.DB) *PostgresStatusUpdater { return &PostgresStatusUpdater{db: db} }

func (u *PostgresStatusUpdater) ApplyDeliveryEvent(ctx context.Context, evt domain.DeliveryEvent) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE provider_message_id = $3
	`, evt.Status, evt.Reason, evt.ProviderMessageID); err != nil {
		return err
	}

	delivered := evt.Status == domain.MessageDelivered || evt.Status == domain.MessageRead
	read := evt.Status == domain.MessageRead
	if delivered || read {
		if _, err := tx.ExecContext(ctx, `
			UPDATE variation_log
			SET delivered = delivered OR $1,
			    read = read OR $2
			WHERE provider_message_id = $3
		`, delivered, read, evt.ProviderMessageID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
