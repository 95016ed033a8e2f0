// Package sqs implements the driver over one Amazon SQS queue. SQS has no
// priorities, so SetupPriorityQueue is rejected.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const (
	Name = "sqs"

	maxWaitSeconds  = 20
	maxBatch        = 10
	maxDelaySeconds = 900
)

var Capabilities = driver.Capabilities{
	Name:           Name,
	SupportsDelay:  true,
	MaxMessageSize: 262144,
	MaxDelay:       maxDelaySeconds * time.Second,
}

// Client is the subset of the SQS API the driver calls.
type Client interface {
	CreateQueue(ctx context.Context, in *amazonsqs.CreateQueueInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, in *amazonsqs.SendMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *amazonsqs.ReceiveMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *amazonsqs.DeleteMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.DeleteMessageOutput, error)
}

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// ClientFactory allows overriding the SQS client creation for testing.
var ClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) Client {
	return amazonsqs.NewFromConfig(cfg, optFns...)
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

// Build loads the AWS configuration, creates the queue if it does not exist
// and returns the driver bound to it.
func Build(ctx context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var sqsOpts []func(*amazonsqs.Options)
	if endpoint := cfg.GetAWSEndpoint(); endpoint != "" {
		logger.Info("Using custom SQS endpoint", watermill.LogFields{"endpoint": endpoint})
		sqsOpts = append(sqsOpts, func(o *amazonsqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	d, err := New(ctx, ClientFactory(awsCfg, sqsOpts...), cfg.GetQueueName(), cfg.GetSQSQueueAttributes(), opts)
	if err != nil {
		return nil, err
	}
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		return nil, err
	}
	return d, nil
}

func createAWSConfig(ctx context.Context, cfg driver.Config, logger watermill.LoggerAdapter) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if accessKey, secretKey := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); accessKey != "" && secretKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(accessKey, secretKey)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, loadOpts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": region})
		return aws.Config{}, err
	}
	if region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

type Driver struct {
	client   Client
	queue    string
	queueURL string
	opts     driver.Options
}

// New creates (or looks up) queueName with attributes and binds the driver
// to its URL.
func New(ctx context.Context, client Client, queueName string, attributes map[string]string, opts driver.Options) (*Driver, error) {
	if queueName == "" {
		return nil, driver.ErrQueueNameRequired
	}
	out, err := client.CreateQueue(ctx, &amazonsqs.CreateQueueInput{
		QueueName:  aws.String(queueName),
		Attributes: maps.Clone(attributes),
	})
	if err != nil {
		return nil, annotate("create queue "+queueName, err)
	}
	return &Driver{
		client:   client,
		queue:    queueName,
		queueURL: aws.ToString(out.QueueUrl),
		opts:     opts.WithDefaults(),
	}, nil
}

func (d *Driver) Capabilities() driver.Capabilities { return Capabilities }

func (d *Driver) QueueURL() string { return d.queueURL }

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	return fmt.Errorf("%w: sqs has no priority queues (%s for %s)", driver.ErrUnsupported, name, priority)
}

// Send ignores priority. A future execute time becomes DelaySeconds, capped
// at the SQS maximum of 15 minutes.
func (d *Driver) Send(ctx context.Context, msg *message.Message, priority driver.Priority) (err error) {
	if msg == nil {
		return fmt.Errorf("sqs: nil message")
	}
	defer func() { d.opts.Observer.MessageSent(Name, msg.Type(), priority, err) }()

	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("sqs: serialize: %w", err)
	}
	in := &amazonsqs.SendMessageInput{
		QueueUrl:     aws.String(d.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds(msg.ExecuteAt(), d.opts.Now()),
	}
	if _, err := d.client.SendMessage(ctx, in); err != nil {
		return annotate("send to "+d.queue, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, handler driver.Handler, priorities ...driver.Priority) (lifecycle.Reason, error) {
	return driver.NewLoop(Name, d, d.opts).Run(ctx, handler, nil)
}

// Receive long-polls for at most wait, rounded up to whole seconds. Each
// delivery is acknowledged with DeleteMessage.
func (d *Driver) Receive(ctx context.Context, _ []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	out, err := d.client.ReceiveMessage(ctx, &amazonsqs.ReceiveMessageInput{
		QueueUrl:            aws.String(d.queueURL),
		MaxNumberOfMessages: int32(min(max(d.opts.BatchSize, 1), maxBatch)),
		WaitTimeSeconds:     waitSeconds(wait),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, annotate("receive from "+d.queue, err)
	}

	deliveries := make([]driver.Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		receipt := aws.ToString(m.ReceiptHandle)
		deliveries = append(deliveries, driver.Delivery{
			Body:     []byte(aws.ToString(m.Body)),
			Priority: driver.PriorityDefault,
			Ack: func(ctx context.Context) error {
				_, err := d.client.DeleteMessage(ctx, &amazonsqs.DeleteMessageInput{
					QueueUrl:      aws.String(d.queueURL),
					ReceiptHandle: aws.String(receipt),
				})
				if err != nil {
					return annotate("delete from "+d.queue, err)
				}
				return nil
			},
		})
	}
	return deliveries, nil
}

func waitSeconds(wait time.Duration) int32 {
	if wait <= 0 {
		return 0
	}
	secs := (wait + time.Second - 1) / time.Second
	return int32(min(secs, maxWaitSeconds))
}

func delaySeconds(executeAt, now time.Time) int32 {
	if executeAt.IsZero() || !executeAt.After(now) {
		return 0
	}
	secs := (executeAt.Sub(now) + time.Second - 1) / time.Second
	return int32(min(secs, maxDelaySeconds))
}

func annotate(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("sqs: %s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("sqs: %s: %w", op, err)
}
