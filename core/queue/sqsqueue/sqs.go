// Package sqsqueue implements the update queue on Amazon SQS.
package sqsqueue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hashicorp/go-multierror"

	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/queue"
)

// maxBatch is the SQS limit for receive and delete batches.
const maxBatch = 10

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Options tunes polling.
type Options struct {
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// Queue publishes to and long-polls a single SQS queue.
type Queue struct {
	client API
	url    string
	opts   Options
}

// New returns a queue bound to url.
func New(client API, url string, opts Options) *Queue {
	if opts.BatchSize <= 0 || opts.BatchSize > maxBatch {
		opts.BatchSize = maxBatch
	}
	return &Queue{client: client, url: url, opts: opts}
}

// Publish sends env with eventType and updateId attributes.
func (q *Queue) Publish(ctx context.Context, env queue.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			queue.AttrEventType: {DataType: aws.String("String"), StringValue: aws.String(env.EventType)},
			queue.AttrUpdateID:  {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(env.UpdateID))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs: send: %w", err)
	}
	logger.Debug(ctx, logger.CompQueue, "queue.published",
		slog.String("queue", "sqs"),
		slog.String("msg_id", aws.ToString(out.MessageId)),
		slog.String("event_type", env.EventType),
	)
	return nil
}

// Receive long-polls for up to BatchSize messages.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         int32(q.opts.BatchSize),
		WaitTimeSeconds:             int32(q.opts.WaitTime / time.Second),
		VisibilityTimeout:           int32(q.opts.VisibilityTimeout / time.Second),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs: receive: %w", err)
	}
	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attrs := make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			attrs[k] = aws.ToString(v.StringValue)
		}
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, queue.Message{
			ID:           aws.ToString(m.MessageId),
			Receipt:      aws.ToString(m.ReceiptHandle),
			Body:         []byte(aws.ToString(m.Body)),
			Attributes:   attrs,
			ReceiveCount: count,
		})
	}
	return msgs, nil
}

// Ack deletes msgs in batches. Entries the service refuses are reported together.
func (q *Queue) Ack(ctx context.Context, msgs []queue.Message) error {
	var result *multierror.Error
	for start := 0; start < len(msgs); start += maxBatch {
		chunk := msgs[start:min(start+maxBatch, len(msgs))]
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for i, m := range chunk {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(start + i)),
				ReceiptHandle: aws.String(m.Receipt),
			})
		}
		out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  entries,
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("sqs: delete batch: %w", err))
			continue
		}
		for _, f := range out.Failed {
			result = multierror.Append(result, fmt.Errorf("sqs: delete entry %s: %s %s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
		}
	}
	return result.ErrorOrNil()
}
