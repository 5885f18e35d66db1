package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// JobMessage is the SQS body for one analysis.
type JobMessage struct {
	AnalysisID string `json:"analysis_id"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSDispatcher struct {
	client   sqsAPI
	queueURL string
}

func NewSQSDispatcher(client *sqs.Client, queueURL string) *SQSDispatcher {
	return &SQSDispatcher{client: client, queueURL: queueURL}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, analysisID uuid.UUID) error {
	body, err := json.Marshal(JobMessage{AnalysisID: analysisID.String()})
	if err != nil {
		return err
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send job message: %w", err)
	}
	return nil
}

// SQSConsumer long-polls the queue and runs the handler for each message.
// Messages are deleted after the handler returns; a crash leaves them to
// reappear after the visibility timeout.
type SQSConsumer struct {
	client            sqsAPI
	queueURL          string
	handler           Handler
	visibilityTimeout int32
	idleSleep         time.Duration
}

func NewSQSConsumer(client *sqs.Client, queueURL string, handler Handler, visibility time.Duration) *SQSConsumer {
	return &SQSConsumer{
		client:            client,
		queueURL:          queueURL,
		handler:           handler,
		visibilityTimeout: int32(visibility.Seconds()),
		idleSleep:         2 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (c *SQSConsumer) Run(ctx context.Context) error {
	slog.Info("sqs consumer started", "queue_url", c.queueURL)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := c.PollOnce(ctx)
		if err != nil {
			slog.Warn("sqs receive failed", "error", err.Error())
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}
		if n == 0 && !sleepCtx(ctx, c.idleSleep) {
			return nil
		}
	}
}

// PollOnce receives one batch and handles it, returning the number of messages seen.
func (c *SQSConsumer) PollOnce(ctx context.Context) (int, error) {
	recvCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	resp, err := c.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 5,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	cancel()
	if err != nil {
		return 0, err
	}

	for _, m := range resp.Messages {
		c.handle(ctx, m)
	}
	return len(resp.Messages), nil
}

func (c *SQSConsumer) handle(ctx context.Context, m sqstypes.Message) {
	if m.Body == nil {
		c.delete(m)
		return
	}
	var job JobMessage
	if err := json.Unmarshal([]byte(*m.Body), &job); err != nil {
		slog.Warn("dropping malformed job message", "error", err.Error())
		c.delete(m)
		return
	}
	id, err := uuid.Parse(job.AnalysisID)
	if err != nil {
		slog.Warn("dropping job message with bad analysis id", "analysis_id", job.AnalysisID)
		c.delete(m)
		return
	}

	if err := c.handler(ctx, id); err != nil {
		slog.Error("analysis processing failed", "analysis_id", id.String(), "error", err.Error())
	}
	c.delete(m)
}

func (c *SQSConsumer) delete(m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	_, err := c.client.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		slog.Warn("sqs delete failed", "error", err.Error())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// NewSQSClient builds an SQS client; Endpoint targets a local emulator such as ElasticMQ.
func NewSQSClient(ctx context.Context, region, endpoint, accessKey, secretKey string) (*sqs.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
