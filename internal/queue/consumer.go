package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartAuditConsumer connects to RabbitMQ and consumes both domain
// event queues, appending each event to logs/audit.log in a
// single-line human-friendly format.  It runs a reconnect loop with
// exponential backoff and never returns under normal operation;
// processing errors are logged and the offending message rejected so
// the server keeps running.
func StartAuditConsumer() {
	url := brokerURL()

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("audit-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			log.Printf("audit-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("audit-consumer: set QoS failed: %v", err)
	}

	for _, name := range []string{OrderConfirmedQueue, TicketTransferredQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
	}

	orders, err := ch.Consume(OrderConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", OrderConfirmedQueue, err)
	}
	transfers, err := ch.Consume(TicketTransferredQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", TicketTransferredQueue, err)
	}

	for {
		select {
		case d, ok := <-orders:
			if !ok {
				return errors.New("order deliveries channel closed")
			}
			ack(d, handleOrderConfirmed(d.Body))
		case d, ok := <-transfers:
			if !ok {
				return errors.New("transfer deliveries channel closed")
			}
			ack(d, handleTicketTransferred(d.Body))
		}
	}
}

func ack(d amqp.Delivery, err error) {
	if err != nil {
		log.Printf("audit-consumer: handle message failed: %v", err)
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
		return
	}
	_ = d.Ack(false)
}

func handleOrderConfirmed(body []byte) error {
	var ev OrderConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	line := fmt.Sprintf("[%s] Order confirmed | order_id=%s | reservation_id=%s | user_id=%s | event_id=%s | amount=%d paise | tickets=%d\n",
		ev.ConfirmedAt, ev.OrderID, ev.ReservationID, ev.UserID, ev.EventID, ev.AmountPaise, len(ev.TicketIDs))
	return appendAuditLine(line)
}

func handleTicketTransferred(body []byte) error {
	var ev TicketTransferredEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	line := fmt.Sprintf("[%s] Ticket transferred | transfer_id=%s | ticket_id=%s | from=%s | to=%s\n",
		ev.TransferredAt, ev.TransferID, ev.TicketID, ev.FromUserID, ev.ToUserID)
	return appendAuditLine(line)
}

func appendAuditLine(line string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "audit.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
