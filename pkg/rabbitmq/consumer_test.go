package rabbitmq

import (
	"reflect"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingAcknowledger struct {
	acked    []uint64
	requeued []uint64
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.requeued = append(a.requeued, tag)
	}
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestConsumerDispatch(t *testing.T) {
	var seen []string
	c := newConsumer(nil, nil)
	c.handlers[RoutingKeyOrderCompleted] = func(body []byte) bool {
		seen = append(seen, string(body))
		return string(body) != "fail"
	}

	ack := &recordingAcknowledger{}
	deliveries := []amqp.Delivery{
		{Acknowledger: ack, DeliveryTag: 1, RoutingKey: RoutingKeyOrderCompleted, Body: []byte("ok")},
		{Acknowledger: ack, DeliveryTag: 2, RoutingKey: RoutingKeyOrderCompleted, Body: []byte("fail")},
		{Acknowledger: ack, DeliveryTag: 3, RoutingKey: "catalog.item.updated", Body: []byte("ignored")},
	}
	for _, d := range deliveries {
		c.dispatch(d)
	}

	if !reflect.DeepEqual(seen, []string{"ok", "fail"}) {
		t.Fatalf("handler saw %v", seen)
	}
	if !reflect.DeepEqual(ack.acked, []uint64{1, 3}) {
		t.Fatalf("expected deliveries 1 and 3 acked, got %v", ack.acked)
	}
	if !reflect.DeepEqual(ack.requeued, []uint64{2}) {
		t.Fatalf("expected delivery 2 requeued, got %v", ack.requeued)
	}
}

func TestConsumerRun_ClosesDoneWhenDeliveriesEnd(t *testing.T) {
	c := newConsumer(nil, nil)
	ack := &recordingAcknowledger{}
	c.handlers[RoutingKeyUserSignedUp] = func([]byte) bool { return true }

	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, RoutingKey: RoutingKeyUserSignedUp}
	close(msgs)
	c.run(msgs)

	select {
	case <-c.Done():
	default:
		t.Fatalf("done channel still open after the delivery stream ended")
	}
	if !reflect.DeepEqual(ack.acked, []uint64{7}) {
		t.Fatalf("expected delivery 7 acked, got %v", ack.acked)
	}
}

func TestConsumeWithBindings_RequiresAHandler(t *testing.T) {
	c := newConsumer(nil, nil)
	if err := c.ConsumeWithBindings("sooqkabeer.events", "ledger", 0, map[string]Handler{RoutingKeyOrderCompleted: nil}); err == nil {
		t.Fatalf("expected an error when every handler is nil")
	}
}
