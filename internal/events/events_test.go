package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestBus_PublishFiltersByType(t *testing.T) {
	b := NewBus()
	all := b.Subscribe(4)
	alarms := b.Subscribe(4, TypeAlarmState)

	ev := b.Publish(TypeEquipmentStatus, "FAN-1", "on")
	b.Publish(TypeAlarmState, "HIGH-TEMP", "active")

	if _, err := uuid.Parse(ev.ID); err != nil {
		t.Errorf("event ID %q is not a UUID", ev.ID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("event not timestamped")
	}

	if got := <-all.Events(); got.Subject != "FAN-1" {
		t.Errorf("all[0] = %+v", got)
	}
	if got := <-all.Events(); got.Subject != "HIGH-TEMP" {
		t.Errorf("all[1] = %+v", got)
	}
	if got := <-alarms.Events(); got.Type != TypeAlarmState {
		t.Errorf("alarms[0] = %+v", got)
	}
	select {
	case extra := <-alarms.Events():
		t.Errorf("filtered subscriber got %+v", extra)
	default:
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe(1)

	for i := 0; i < 5; i++ {
		b.Publish(TypeEquipmentStatus, "PUMP-1", i)
	}
	if b.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", b.Dropped())
	}
	if got := <-slow.Events(); got.Payload != 0 {
		t.Errorf("first payload = %v", got.Payload)
	}
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(1)
	s2 := b.Subscribe(1)

	s1.Close()
	s1.Close()
	if b.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d", b.SubscriberCount())
	}
	if _, ok := <-s1.Events(); ok {
		t.Error("closed subscription still open")
	}

	b.Close()
	if _, ok := <-s2.Events(); ok {
		t.Error("bus close did not close subscription")
	}
	b.Publish(TypeAlarmState, "x", nil)
	s2.Close()

	late := b.Subscribe(1)
	if _, ok := <-late.Events(); ok {
		t.Error("subscription after close should be closed")
	}
}
