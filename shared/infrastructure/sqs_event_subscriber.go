package infrastructure

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow/order-system/shared/events"
)

const (
	SQSMessageIDKey     = "sqs_message_id"
	SQSReceiptHandleKey = "sqs_receipt_handle"
)

type sqsDelivery struct {
	message types.Message
	event   *events.Event
}

// SQSEventSubscriber polls an SQS queue and dispatches the decoded events to
// a handler. Successfully handled messages are deleted; failed ones get an
// extended visibility timeout so redelivery backs off with the receive count.
type SQSEventSubscriber struct {
	client   *sqs.Client
	queueURL string
	handler  events.Handler
	options  *sqsSubscriberOptions
	running  atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	inbound  chan *sqsDelivery
}

type sqsSubscriberOptions struct {
	workers                 int
	readers                 int
	maxNumberOfMessages     int32
	waitTimeSeconds         int32
	visibilityTimeout       int32
	sleepAfterEmptyReceive  time.Duration
	sleepAfterError         time.Duration
	receiveCountRange       int32
	visibilityTimeoutOffset int32
	maxVisibilityTimeout    int32
}

type SQSSubscriberOption func(*sqsSubscriberOptions)

func WithWorkers(workers int) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.workers = workers
	}
}

func WithReaders(readers int) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(timeout int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.visibilityTimeout = timeout
	}
}

// NewSQSEventSubscriber creates a new SQS event subscriber
func NewSQSEventSubscriber(
	client *sqs.Client,
	queueURL string,
	handler events.Handler,
	opts ...SQSSubscriberOption,
) *SQSEventSubscriber {
	options := &sqsSubscriberOptions{
		workers:                 10,
		readers:                 1,
		maxNumberOfMessages:     5,
		waitTimeSeconds:         15,
		visibilityTimeout:       30,
		sleepAfterEmptyReceive:  5 * time.Second,
		sleepAfterError:         20 * time.Second,
		receiveCountRange:       3,
		visibilityTimeoutOffset: 30,
		maxVisibilityTimeout:    900, // 15 minutes
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSEventSubscriber{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		options:  options,
		inbound:  make(chan *sqsDelivery, 10),
	}
}

// NewSQSEventSubscriberFromEnv builds the SQS client from the default AWS
// config chain.
func NewSQSEventSubscriberFromEnv(
	ctx context.Context,
	queueURL string,
	handler events.Handler,
	opts ...SQSSubscriberOption,
) (*SQSEventSubscriber, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewSQSEventSubscriber(sqs.NewFromConfig(cfg), queueURL, handler, opts...), nil
}

// Start launches the reader and worker goroutines. It returns immediately;
// call Stop to shut them down.
func (s *SQSEventSubscriber) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("subscriber is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	gr, ctx := errgroup.WithContext(ctx)
	s.group = gr

	for i := 0; i < s.options.readers; i++ {
		gr.Go(func() error {
			s.runReader(ctx)
			return nil
		})
	}

	for i := 0; i < s.options.workers; i++ {
		gr.Go(func() error {
			s.runWorker(ctx)
			return nil
		})
	}

	return nil
}

// Stop cancels the polling loops and waits for in-flight handlers to finish
func (s *SQSEventSubscriber) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	return s.group.Wait()
}

func (s *SQSEventSubscriber) runReader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.read(ctx); err != nil && ctx.Err() == nil {
				time.Sleep(s.options.sleepAfterError)
			}
		}
	}
}

func (s *SQSEventSubscriber) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery := <-s.inbound:
			if delivery == nil {
				continue
			}
			if err := s.handler.Handle(ctx, delivery.event); err != nil {
				s.extendVisibility(ctx, delivery)
				continue
			}
			s.ack(ctx, delivery)
		}
	}
}

func (s *SQSEventSubscriber) read(ctx context.Context) error {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return errors.Wrap(err, "failed to receive message from SQS")
	}

	if len(output.Messages) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.options.sleepAfterEmptyReceive):
		}
		return nil
	}

	for _, message := range output.Messages {
		event, err := decodeSQSMessage(message)
		if err != nil {
			// Malformed payloads are acked so they do not poison the queue
			s.ack(ctx, &sqsDelivery{message: message})
			continue
		}

		select {
		case s.inbound <- &sqsDelivery{message: message, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func decodeSQSMessage(message types.Message) (*events.Event, error) {
	if message.Body == nil {
		return nil, errors.New("message has no body")
	}

	event, err := events.FromJSON([]byte(*message.Body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode event")
	}

	if event.Metadata == nil {
		event.Metadata = make(events.Metadata)
	}
	if message.MessageId != nil {
		event.Metadata.Set(SQSMessageIDKey, *message.MessageId)
	}
	if message.ReceiptHandle != nil {
		event.Metadata.Set(SQSReceiptHandleKey, *message.ReceiptHandle)
	}

	for k, v := range message.MessageAttributes {
		if v.StringValue != nil {
			event.Metadata.Set(k, *v.StringValue)
		}
	}

	return event, nil
}

func (s *SQSEventSubscriber) ack(ctx context.Context, delivery *sqsDelivery) {
	_, _ = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &s.queueURL,
		ReceiptHandle: delivery.message.ReceiptHandle,
	})
}

// extendVisibility backs the message off proportionally to how many times it
// has already been received, capped at maxVisibilityTimeout.
func (s *SQSEventSubscriber) extendVisibility(ctx context.Context, delivery *sqsDelivery) {
	receiveCount, err := strconv.Atoi(delivery.message.Attributes["ApproximateReceiveCount"])
	if err != nil {
		receiveCount = 1
	}

	visibilityTimeout := s.options.visibilityTimeout
	visibilityTimeout += (int32(receiveCount) / s.options.receiveCountRange) * s.options.visibilityTimeoutOffset
	if visibilityTimeout > s.options.maxVisibilityTimeout {
		visibilityTimeout = s.options.maxVisibilityTimeout
	}

	_, _ = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &s.queueURL,
		ReceiptHandle:     delivery.message.ReceiptHandle,
		VisibilityTimeout: visibilityTimeout,
	})
}
