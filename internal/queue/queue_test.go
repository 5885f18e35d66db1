package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDispatcher_RunsEveryJob(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	d := NewLocalDispatcher(func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return nil
	}, 3, 10)

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, d.Dispatch(context.Background(), ids[i]))
	}
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
}

func TestLocalDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewLocalDispatcher(func(context.Context, uuid.UUID) error { return nil }, 1, 1)
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), uuid.New()), ErrClosed)
	assert.NoError(t, d.Close(context.Background()))
}

func TestLocalDispatcher_HandlerErrorDoesNotStopPool(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewLocalDispatcher(func(context.Context, uuid.UUID) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}, 1, 5)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), uuid.New()))
	}
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 3, calls)
}

type fakeSQS struct {
	mu      sync.Mutex
	sent    []string
	inbox   []sqstypes.Message
	deleted []string
	recvErr error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	msgs := f.inbox
	f.inbox = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSDispatcher_SendsJobMessage(t *testing.T) {
	fake := &fakeSQS{}
	d := &SQSDispatcher{client: fake, queueURL: "https://sqs.local/q"}
	id := uuid.New()

	require.NoError(t, d.Dispatch(context.Background(), id))
	require.Len(t, fake.sent, 1)

	var job JobMessage
	require.NoError(t, json.Unmarshal([]byte(fake.sent[0]), &job))
	assert.Equal(t, id.String(), job.AnalysisID)
}

func TestSQSConsumer_PollOnceHandlesAndDeletes(t *testing.T) {
	id := uuid.New()
	body, _ := json.Marshal(JobMessage{AnalysisID: id.String()})
	fake := &fakeSQS{inbox: []sqstypes.Message{
		{Body: aws.String(string(body)), ReceiptHandle: aws.String("r1")},
		{Body: aws.String("not json"), ReceiptHandle: aws.String("r2")},
		{Body: aws.String(`{"analysis_id":"nope"}`), ReceiptHandle: aws.String("r3")},
	}}

	var handled []uuid.UUID
	c := &SQSConsumer{client: fake, queueURL: "q", idleSleep: time.Millisecond, handler: func(_ context.Context, got uuid.UUID) error {
		handled = append(handled, got)
		return nil
	}}

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uuid.UUID{id}, handled)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, fake.deleted)
}

func TestSQSConsumer_RunStopsOnCancel(t *testing.T) {
	fake := &fakeSQS{}
	c := &SQSConsumer{client: fake, queueURL: "q", idleSleep: time.Millisecond, handler: func(context.Context, uuid.UUID) error { return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
