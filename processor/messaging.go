package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"go.uber.org/zap"
)

// MaxTries of a job. Must be less than the configured number of tries of the pubsub subscription
const MaxTries = 15

// MessagingConfig configures the queues (pgqueue or pubsub)
type MessagingConfig struct {
	PgqDbConnection string
	PsProject       string
	JobQueue        string
	EventQueue      string
}

// Messaging gives access to the queues of the jobs and of the results
type Messaging struct {
	EventPublisher messaging.Publisher // Optional
	JobConsumer    messaging.Consumer  // Optional
	stops          []func()
}

// NewMessaging connects to the queues of the configuration. Unconfigured queues are nil.
func NewMessaging(ctx context.Context, config MessagingConfig) (*Messaging, error) {
	m := Messaging{}
	var logMessaging string
	if config.PgqDbConnection != "" {
		db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
		if err != nil {
			return nil, fmt.Errorf("MessagingService: %w", err)
		}
		if config.JobQueue != "" {
			logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.JobQueue)
			consumer := pgqueue.NewConsumer(db, config.JobQueue)
			m.stops = append(m.stops, func() { consumer.Stop() })
			m.JobConsumer = consumer
		}
		if config.EventQueue != "" {
			logMessaging += fmt.Sprintf(" pushing on pgqueue:%s", config.EventQueue)
			m.EventPublisher = pgqueue.NewPublisher(w, config.EventQueue, pgqueue.WithMaxRetries(5))
		}
	} else if config.PsProject != "" {
		if config.JobQueue != "" {
			logMessaging += fmt.Sprintf(" pulling on %s/%s", config.PsProject, config.JobQueue)
			consumer, err := pubsub.NewConsumer(config.PsProject, config.JobQueue)
			if err != nil {
				return nil, fmt.Errorf("pubsub.NewConsumer: %w", err)
			}
			m.JobConsumer = consumer
		}
		if config.EventQueue != "" {
			logMessaging += fmt.Sprintf(" pushing on %s/%s", config.PsProject, config.EventQueue)
			eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventQueue, pubsub.WithMaxRetries(5))
			if err != nil {
				m.Stop()
				return nil, fmt.Errorf("messaging.NewPublisher: %w", err)
			}
			m.stops = append(m.stops, func() { eventTopic.Stop() })
			m.EventPublisher = eventTopic
		}
	}
	if logMessaging != "" {
		log.Logger(ctx).Debug("messaging:" + logMessaging)
	}
	return &m, nil
}

// Stop closes the connections to the queues
func (m *Messaging) Stop() {
	for _, stop := range m.stops {
		stop()
	}
	m.stops = nil
}

// Publish sends the result on the event queue, if any
func (m *Messaging) Publish(ctx context.Context, res common.Result) error {
	if m.EventPublisher == nil {
		return nil
	}
	resb, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := service.Retriable(ctx, func() error {
		return m.EventPublisher.Publish(ctx, resb)
	}, time.Second, 3); err != nil {
		return service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", err))
	}
	return nil
}

// Job processes the payload of a message and returns the result to publish
type Job func(ctx context.Context, payload []byte) (common.Result, error)

// Serve pulls the job queue and processes the messages until an error occurs.
// resultType is published with the ID of the payload when a job fails.
func (m *Messaging) Serve(ctx context.Context, resultType string, job Job) error {
	if m.JobConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.JobConsumer")
	}
	for {
		if err := m.JobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) error {
			return m.HandleMessage(ctx, msg, resultType, job)
		}); err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}

// HandleMessage runs the job of the message and publishes its result.
// Temporary errors are returned without publication, so that the message is retried.
func (m *Messaging) HandleMessage(ctx context.Context, msg *messaging.Message, resultType string, job Job) (err error) {
	ctx = log.With(ctx, "msgID", msg.ID)
	log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)

	res := common.Result{Type: resultType, Status: common.StatusFAILED}
	defer func() {
		if err != nil && service.Temporary(err) {
			log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
			return
		}
		if err != nil {
			log.Logger(ctx).Warn("job failed", zap.Error(err))
			res.Status = common.StatusFAILED
			res.Message = err.Error()
		}
		if e := m.Publish(ctx, res); e != nil {
			err = e
		}
	}()
	if msg.TryCount > MaxTries {
		return fmt.Errorf("too many retries")
	}

	r, err := job(ctx, msg.Data)
	if err != nil {
		res.ID = r.ID
		if msg.TryCount >= MaxTries {
			return fmt.Errorf("too many retries: %v", err)
		}
		return err
	}
	res = r
	log.Logger(ctx).Sugar().Infof("successfully processed %s (%s)", res.ID, res.Status)
	return nil
}

// Run processes a single payload, publishes the result and dumps the error, if any, in workdir
func (m *Messaging) Run(ctx context.Context, payload []byte, resultType, workdir string, job Job) error {
	res, err := job(ctx, payload)
	if err != nil {
		log.Logger(ctx).Error("job failed", zap.Error(err))
		if e := service.DumpError(workdir, err); e != nil {
			log.Logger(ctx).Warn("dump error", zap.Error(e))
		}
		res = common.Result{Type: resultType, ID: res.ID, Status: common.StatusFAILED, Message: err.Error()}
	}
	if e := m.Publish(ctx, res); e != nil {
		return service.MergeErrors(true, err, e)
	}
	return err
}
