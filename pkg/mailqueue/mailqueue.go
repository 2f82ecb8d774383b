package mailqueue

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/streadway/amqp"
)

const queueName = "mail_queue"

// Client publishes outbound mail messages to RabbitMQ. The actual SMTP
// delivery is done by a separate consumer process; this service only hands
// the message to the queue.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	from    string
}

// Config holds RabbitMQ connection details for the mail queue.
type Config struct {
	URL  string
	From string // Sender identity stamped on every message
}

// PasswordResetMessage is the payload of a mail.password_reset message.
type PasswordResetMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Username  string    `json:"username"`
	ResetURL  string    `json:"reset_url"`
	ExpiresIn string    `json:"expires_in"`
	QueuedAt  time.Time `json:"queued_at"`
}

// NewClient connects to RabbitMQ and declares the durable mail queue.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable (mail must survive broker restarts)
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare %s: %w", queueName, err)
	}

	log.Printf("Mail queue client connected, %s declared", queueName)

	return &Client{
		conn:    conn,
		channel: ch,
		from:    cfg.From,
	}, nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during mail queue client close: %v", errs)
	}
	return nil
}

// PublishPasswordReset queues a password-reset mail for delivery.
func (c *Client) PublishPasswordReset(to, username, resetURL string) error {
	if c.channel == nil {
		return fmt.Errorf("mail queue channel is not available")
	}

	msg := PasswordResetMessage{
		Type:      "mail.password_reset",
		From:      c.from,
		To:        to,
		Username:  username,
		ResetURL:  resetURL,
		ExpiresIn: "1 hour",
		QueuedAt:  time.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail message: %w", err)
	}

	err = c.channel.Publish(
		"",        // exchange: default exchange
		queueName, // routing key: the queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish mail message: %w", err)
	}

	log.Printf(" [x] Queued password reset mail for %s", to)
	return nil
}
