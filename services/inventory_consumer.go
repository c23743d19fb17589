package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

const (
	InventoryExchange      = "inventory"
	DisbursementRoutingKey = "disbursement.created"
	DisbursementQueue      = "restaurant.disbursements"
)

// DisbursementPublisher is satisfied by *kds.Hub.
type DisbursementPublisher interface {
	BroadcastDisbursement(d models.Disbursement)
}

// InventoryConsumer bridges the pantry module's disbursement events from
// RabbitMQ onto the push hub.
type InventoryConsumer struct {
	URL            string
	Queue          string
	Prefetch       int
	ReconnectEvery time.Duration

	hub DisbursementPublisher
	log logrus.FieldLogger
}

func NewInventoryConsumer(url string, hub DisbursementPublisher, log logrus.FieldLogger) *InventoryConsumer {
	return &InventoryConsumer{
		URL:            url,
		Queue:          DisbursementQueue,
		Prefetch:       10,
		ReconnectEvery: 5 * time.Second,
		hub:            hub,
		log:            utils.Logger(log).WithField("component", "inventory-consumer"),
	}
}

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *InventoryConsumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnf("inventory consumer stopped, reconnecting in %s: %v", c.ReconnectEvery, err)

		t := time.NewTimer(c.ReconnectEvery)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *InventoryConsumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(InventoryExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.Queue, DisbursementRoutingKey, InventoryExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(c.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.Queue, "restaurant-sync", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.log.WithField("queue", c.Queue).Info("inventory consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.Process(d.Body); err != nil {
				c.log.Warnf("rejecting disbursement: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				c.log.Warnf("ack failed: %v", err)
			}
		}
	}
}

// Process decodes one disbursement payload and broadcasts it.
func (c *InventoryConsumer) Process(body []byte) error {
	var d models.Disbursement
	if err := json.Unmarshal(body, &d); err != nil {
		return fmt.Errorf("unmarshal disbursement: %w", err)
	}
	d.Category = strings.ToLower(strings.TrimSpace(d.Category))
	if d.Category == "" {
		return fmt.Errorf("disbursement %d has no category", d.ID)
	}
	c.hub.BroadcastDisbursement(d)
	c.log.WithFields(logrus.Fields{"disbursement_id": d.ID, "category": d.Category}).Info("disbursement relayed")
	return nil
}
