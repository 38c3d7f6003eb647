package rabbitmq

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. Returning false requeues the delivery.
type Handler func(body []byte) bool

// Consumer reads ledger events from one durable queue bound to a topic exchange.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	handlers map[string]Handler
	done     chan struct{}
}

// sanitizeURL cleans the URL like the producer does and adds the trailing slash that
// selects the default vhost.
func sanitizeURL(raw string) (string, error) {
	clean, err := sanitizeAMQPURL(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial consumer connection: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	return newConsumer(conn, ch), nil
}

func newConsumer(conn *amqp.Connection, ch *amqp.Channel) *Consumer {
	return &Consumer{conn: conn, ch: ch, handlers: make(map[string]Handler), done: make(chan struct{})}
}

// ConsumeWithBindings binds queueName to exchange for every routing key in bindings and
// starts delivering in the background. prefetch caps the unacknowledged deliveries held
// by this consumer; zero leaves the broker default.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, prefetch int, bindings map[string]Handler) error {
	for routingKey, handler := range bindings {
		if handler != nil {
			c.handlers[routingKey] = handler
		}
	}
	if len(c.handlers) == 0 {
		return errors.New("no ledger event handlers to bind")
	}

	if err := c.declare(exchange, queueName, prefetch); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}
	log.Printf("level=info component=ledger_consumer msg=\"consuming\" exchange=%s queue=%s routing_keys=%s", exchange, queueName, strings.Join(c.routingKeys(), ","))

	go c.run(msgs)
	return nil
}

// declare sets up the topic exchange, the durable queue and one binding per handler.
func (c *Consumer) declare(exchange, queueName string, prefetch int) error {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch %d: %w", prefetch, err)
		}
	}
	for _, routingKey := range c.routingKeys() {
		if err := c.ch.QueueBind(queueName, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, queueName, err)
		}
	}
	return nil
}

func (c *Consumer) routingKeys() []string {
	keys := make([]string, 0, len(c.handlers))
	for routingKey := range c.handlers {
		keys = append(keys, routingKey)
	}
	sort.Strings(keys)
	return keys
}

func (c *Consumer) run(msgs <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range msgs {
		c.dispatch(d)
	}
	log.Println("level=warn component=ledger_consumer msg=\"delivery channel closed\"")
}

// dispatch settles one delivery. Keys without a handler are acked so they do not
// circle the queue forever; a failed handler requeues the delivery.
func (c *Consumer) dispatch(d amqp.Delivery) {
	handler, ok := c.handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=ledger_consumer msg=\"unbound routing key; dropping\" routing_key=%s", d.RoutingKey)
		c.settle(d, d.Ack(false))
		return
	}
	if handler(d.Body) {
		c.settle(d, d.Ack(false))
		return
	}
	log.Printf("level=warn component=ledger_consumer msg=\"handler failed; requeueing\" routing_key=%s redelivered=%t", d.RoutingKey, d.Redelivered)
	c.settle(d, d.Nack(false, true))
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		log.Printf("level=error component=ledger_consumer msg=\"delivery settle failed\" routing_key=%s delivery_tag=%d err=%v", d.RoutingKey, d.DeliveryTag, err)
	}
}

// Done is closed once the broker or Close ends the delivery stream.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
