package service

import (
	"context"

	"mindmate-be/internal/constant"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/mailer"
	"mindmate-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// EventForwarder ships events off-process, e.g. to NATS JetStream.
type EventForwarder interface {
	Publish(ctx context.Context, event events.Event) error
}

type consumerService struct {
	subscriber   message.Subscriber
	topicName    string
	forwarder    EventForwarder      // optional
	emailService mailer.IEmailService // optional
	logger       logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	forwarder EventForwarder,
	emailService mailer.IEmailService,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber:   subscriber,
		topicName:    constant.EventsTopic,
		forwarder:    forwarder,
		emailService: emailService,
		logger:       log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	// Side effects are best effort; a failed forward or mail is logged and the message acked.
	defer msg.Ack()

	event, err := events.Unmarshal(msg.Payload)
	if err != nil {
		cs.logger.Error("EVENTS", "Failed to unmarshal event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		return
	}

	cs.logger.Info("EVENTS", "Event received", map[string]interface{}{
		"type":        event.Type,
		"occurred_at": event.OccurredAt,
		"data":        event.Data,
	})

	if cs.forwarder != nil {
		if err := cs.forwarder.Publish(ctx, event); err != nil {
			cs.logger.Warn("EVENTS", "Failed to forward event", map[string]interface{}{
				"type":  event.Type,
				"error": err.Error(),
			})
		}
	}

	if event.Type == constant.EventUserRegistered && cs.emailService != nil {
		email, _ := event.Data["email"].(string)
		if email == "" {
			return
		}
		if err := cs.emailService.SendWelcome(email); err != nil {
			cs.logger.Warn("MAILER", "Failed to send welcome mail", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
