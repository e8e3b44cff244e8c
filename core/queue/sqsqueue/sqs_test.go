package sqsqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/concierge/core/queue"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	receive  *sqs.ReceiveMessageInput
	messages []types.Message
	deleted  [][]types.DeleteMessageBatchRequestEntry
	failID   string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receive = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deleted = append(f.deleted, in.Entries)
	out := &sqs.DeleteMessageBatchOutput{}
	for _, e := range in.Entries {
		if aws.ToString(e.Id) == f.failID {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: e.Id, Code: aws.String("ReceiptHandleIsInvalid")})
		}
	}
	return out, nil
}

func TestPublishSetsAttributes(t *testing.T) {
	f := &fakeSQS{}
	q := New(f, "https://sqs/q", Options{})
	env := queue.Envelope{EventType: "message", Update: json.RawMessage(`{"update_id":9}`), ReceivedAt: time.Unix(100, 0).UTC(), UpdateID: 9}

	require.NoError(t, q.Publish(context.Background(), env))
	require.Len(t, f.sent, 1)
	in := f.sent[0]
	assert.Equal(t, "String", *in.MessageAttributes["eventType"].DataType)
	assert.Equal(t, "message", *in.MessageAttributes["eventType"].StringValue)
	assert.Equal(t, "Number", *in.MessageAttributes["updateId"].DataType)
	assert.Equal(t, "9", *in.MessageAttributes["updateId"].StringValue)
	assert.JSONEq(t, `{"eventType":"message","update":{"update_id":9},"receivedAt":"1970-01-01T00:01:40Z"}`, *in.MessageBody)
}

func TestReceiveMapsMessages(t *testing.T) {
	f := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"eventType":"message"}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String("message")},
		},
	}}}
	q := New(f, "u", Options{BatchSize: 50, WaitTime: 20 * time.Second, VisibilityTimeout: time.Minute})

	msgs, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].Receipt)
	assert.Equal(t, 3, msgs[0].ReceiveCount)
	assert.Equal(t, "message", msgs[0].Attributes["eventType"])
	assert.EqualValues(t, 10, f.receive.MaxNumberOfMessages)
	assert.EqualValues(t, 20, f.receive.WaitTimeSeconds)
	assert.EqualValues(t, 60, f.receive.VisibilityTimeout)
}

func TestAckBatchesAndReportsFailures(t *testing.T) {
	f := &fakeSQS{failID: "11"}
	q := New(f, "u", Options{})
	msgs := make([]queue.Message, 12)
	for i := range msgs {
		msgs[i] = queue.Message{Receipt: "rh"}
	}

	err := q.Ack(context.Background(), msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReceiptHandleIsInvalid")
	require.Len(t, f.deleted, 2)
	assert.Len(t, f.deleted[0], 10)
	assert.Len(t, f.deleted[1], 2)

	assert.NoError(t, q.Ack(context.Background(), nil))
}
