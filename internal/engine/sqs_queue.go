package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// SQSQueue carries decision jobs over AWS/LocalStack SQS. Jobs are JSON on
// the wire; the codec lives here so the dispatcher only ever sees typed
// deliveries.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	logger   *logging.Logger
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("engine: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("engine: SQS queueURL cannot be empty")
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		logger:   logging.Default(),
	}
}

// Send publishes a raw body. The outbox deliverer uses this surface for
// canonical event envelopes.
func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("engine: failed to send SQS message: %w", err)
	}
	return nil
}

// SendJob encodes a decision job and publishes it.
func (q *SQSQueue) SendJob(ctx context.Context, job decisionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("engine: failed to encode decision job: %w", err)
	}
	return q.Send(ctx, string(body))
}

// ReceiveJobs long-polls for decision jobs. A body that does not decode is
// deleted so it cannot poison the poll loop.
func (q *SQSQueue) ReceiveJobs(ctx context.Context, maxJobs int, waitSeconds int) ([]jobDelivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxJobs),
		WaitTimeSeconds:     int32(waitSeconds),
	}

	output, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to receive SQS messages: %w", err)
	}

	deliveries := make([]jobDelivery, 0, len(output.Messages))
	for _, msg := range output.Messages {
		var job decisionJob
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			q.logger.Error("dropping undecodable decision job",
				"error", err,
				"message_id", aws.ToString(msg.MessageId),
			)
			_ = q.Delete(ctx, aws.ToString(msg.ReceiptHandle))
			continue
		}
		deliveries = append(deliveries, jobDelivery{
			Job:           job,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}

	return deliveries, nil
}

// Delete acknowledges a processed job.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("engine: failed to delete SQS message: %w", err)
	}
	return nil
}
