package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBridge republishes every notification as JSON on a durable topic exchange using the
// notification name as routing key.
type AMQPBridge struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

type amqpMessage struct {
	Name       string    `json:"name"`
	Payload    any       `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func validateAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewAMQPBridge(amqpURL, exchange string, log *zap.Logger) (*AMQPBridge, error) {
	cleanURL, err := validateAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPBridge{conn: conn, channel: ch, exchange: exchange, log: log.Named("notify.amqp")}, nil
}

// Handle is a Handler suitable for Hub.SubscribeAll.
func (b *AMQPBridge) Handle(ctx context.Context, n Notification) {
	msg := amqpMessage{Name: n.Name, Payload: n.Payload, OccurredAt: n.OccurredAt}
	if n.Err != nil {
		msg.Error = n.Err.Error()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("marshal notification", zap.String("notification", n.Name), zap.Error(err))
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.channel.PublishWithContext(publishCtx, b.exchange, n.Name, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    n.OccurredAt,
		Body:         body,
	})
	if err != nil {
		b.log.Warn("publish notification failed", zap.String("notification", n.Name), zap.Error(err))
	}
}

func (b *AMQPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
