package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/environment"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]mqtt.MessageHandler
	subErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if c.subErr != nil {
		return c.subErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeClient) find(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) ack(t *testing.T, id string) AckMessage {
	t.Helper()
	msg, ok := c.find("farm/ack/" + id)
	if !ok {
		t.Fatalf("no ack published for %s", id)
	}
	if msg.retained {
		t.Error("ack published retained")
	}
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("ack payload: %v", err)
	}
	return ack
}

type fakeEquipment struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeEquipment) do(kind, name string, src equipment.Source) (equipment.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind+":"+name+":"+string(src))
	if f.err != nil {
		return equipment.Status{}, f.err
	}
	return equipment.Status{Name: name, Mode: equipment.ModeManual, CommandedOn: kind == "on"}, nil
}

func (f *fakeEquipment) TurnOn(_ context.Context, n string, s equipment.Source) (equipment.Status, error) {
	return f.do("on", n, s)
}

func (f *fakeEquipment) TurnOff(_ context.Context, n string, s equipment.Source) (equipment.Status, error) {
	return f.do("off", n, s)
}

func (f *fakeEquipment) SetAuto(_ context.Context, n string, s equipment.Source) (equipment.Status, error) {
	return f.do("auto", n, s)
}

func (f *fakeEquipment) SetManual(_ context.Context, n string, s equipment.Source) (equipment.Status, error) {
	return f.do("manual", n, s)
}

func (f *fakeEquipment) List() []equipment.Status {
	return []equipment.Status{{Name: "FAN-1"}, {Name: "PUMP-1"}}
}

type fakeAlarms struct {
	mu    sync.Mutex
	muted time.Duration
	err   error
}

func (f *fakeAlarms) MuteAlarm(_ context.Context, name string, d time.Duration) (alarm.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return alarm.Status{}, f.err
	}
	f.muted = d
	return alarm.Status{Rule: name, State: alarm.StateMuted}, nil
}

func (f *fakeAlarms) AcknowledgeAlarm(_ context.Context, name string) (alarm.Status, error) {
	if f.err != nil {
		return alarm.Status{}, f.err
	}
	return alarm.Status{Rule: name, State: alarm.StateInactive}, nil
}

func (f *fakeAlarms) States() []alarm.Status {
	return []alarm.Status{{Rule: "HIGH-TEMP", State: alarm.StateInactive}}
}

type fakeEnvironment struct{}

func (fakeEnvironment) Status() environment.Status {
	return environment.Status{Step: -1}
}

func newTestGateway(t *testing.T) (*Gateway, *fakeClient, *fakeEquipment, *fakeAlarms) {
	t.Helper()
	client := newFakeClient()
	eq := &fakeEquipment{}
	al := &fakeAlarms{}
	g := New(client, eq, al, fakeEnvironment{}, Options{QoS: 1, CommandTimeout: time.Second})
	if err := g.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return g, client, eq, al
}

func TestGateway_SubscribesCommandTopics(t *testing.T) {
	_, client, _, _ := newTestGateway(t)
	for _, topic := range []string{"farm/command/equipment/+", "farm/command/alarm/+"} {
		if _, ok := client.handlers[topic]; !ok {
			t.Errorf("no handler for %s", topic)
		}
	}
}

func TestGateway_SubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subErr = mqtt.ErrNotConnected
	g := New(client, &fakeEquipment{}, nil, nil, Options{})
	if err := g.Subscribe(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestGateway_EquipmentCommands(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		err        error
		wantStatus AckStatus
		wantCall   string
		wantBlock  []string
	}{
		{name: "on", payload: `{"id":"r1","command":"on"}`, wantStatus: AckAccepted, wantCall: "on:FAN-1:operator"},
		{name: "off", payload: `{"id":"r1","command":"off"}`, wantStatus: AckAccepted, wantCall: "off:FAN-1:operator"},
		{name: "auto", payload: `{"id":"r1","command":"auto"}`, wantStatus: AckAccepted, wantCall: "auto:FAN-1:operator"},
		{name: "manual", payload: `{"id":"r1","command":"manual"}`, wantStatus: AckAccepted, wantCall: "manual:FAN-1:operator"},
		{
			name:       "blocked by interlock",
			payload:    `{"id":"r1","command":"on"}`,
			err:        &equipment.BlockedError{Equipment: "FAN-1", BlockedBy: []string{"EXHAUST-1"}},
			wantStatus: AckBlocked,
			wantCall:   "on:FAN-1:operator",
			wantBlock:  []string{"EXHAUST-1"},
		},
		{name: "panel controlled", payload: `{"id":"r1","command":"auto"}`, err: equipment.ErrPanelControlled, wantStatus: AckRejected, wantCall: "auto:FAN-1:operator"},
		{name: "not found", payload: `{"id":"r1","command":"on"}`, err: equipment.ErrNotFound, wantStatus: AckNotFound, wantCall: "on:FAN-1:operator"},
		{name: "controller down", payload: `{"id":"r1","command":"on"}`, err: equipment.ErrNotRunning, wantStatus: AckFailed, wantCall: "on:FAN-1:operator"},
		{name: "unknown command", payload: `{"id":"r1","command":"spin"}`, wantStatus: AckRejected},
		{name: "bad payload", payload: `{"id":"r1","command":5}`, wantStatus: AckRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, client, eq, _ := newTestGateway(t)
			eq.err = tt.err

			if err := g.HandleMessage("farm/command/equipment/FAN-1", []byte(tt.payload)); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}

			ack := client.ack(t, "r1")
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %s, want %s (error %q)", ack.Status, tt.wantStatus, ack.Error)
			}
			if ack.Target != "equipment" || ack.Name != "FAN-1" {
				t.Errorf("ack target = %s/%s", ack.Target, ack.Name)
			}
			if strings.Join(ack.BlockedBy, ",") != strings.Join(tt.wantBlock, ",") {
				t.Errorf("blocked_by = %v, want %v", ack.BlockedBy, tt.wantBlock)
			}
			if (tt.wantStatus == AckAccepted) != (ack.State != nil) {
				t.Errorf("ack state = %v for status %s", ack.State, ack.Status)
			}

			var call string
			if len(eq.calls) > 0 {
				call = eq.calls[0]
			}
			if call != tt.wantCall {
				t.Errorf("call = %q, want %q", call, tt.wantCall)
			}
		})
	}
}

func TestGateway_GeneratesRequestID(t *testing.T) {
	g, client, _, _ := newTestGateway(t)
	if err := g.HandleMessage("farm/command/equipment/FAN-1", []byte(`{"command":"off"}`)); err != nil {
		t.Fatal(err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.messages) != 1 || !strings.HasPrefix(client.messages[0].topic, "farm/ack/") {
		t.Fatalf("messages = %+v", client.messages)
	}
	if id := strings.TrimPrefix(client.messages[0].topic, "farm/ack/"); len(id) != 36 {
		t.Errorf("generated id %q is not a UUID", id)
	}
}

func TestGateway_UnsafeRequestIDIsReplaced(t *testing.T) {
	for _, id := range []string{"../state/equipment/FAN-1", "a+b", "x/#"} {
		t.Run(id, func(t *testing.T) {
			g, client, eq, _ := newTestGateway(t)
			payload := fmt.Sprintf(`{"id":%q,"command":"on"}`, id)
			if err := g.HandleMessage("farm/command/equipment/FAN-1", []byte(payload)); err != nil {
				t.Fatal(err)
			}
			client.mu.Lock()
			defer client.mu.Unlock()
			if len(client.messages) != 1 {
				t.Fatalf("messages = %+v", client.messages)
			}
			ackID := strings.TrimPrefix(client.messages[0].topic, "farm/ack/")
			if len(ackID) != 36 || strings.ContainsAny(ackID, "/+#") {
				t.Errorf("ack topic %q escapes the ack namespace", client.messages[0].topic)
			}
			var ack AckMessage
			if err := json.Unmarshal(client.messages[0].payload, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.Status != AckRejected {
				t.Errorf("status = %q, want rejected", ack.Status)
			}
			if len(eq.calls) != 0 {
				t.Errorf("calls = %v, want none", eq.calls)
			}
		})
	}
}

func TestGateway_AlarmCommands(t *testing.T) {
	t.Run("mute with duration", func(t *testing.T) {
		g, client, _, al := newTestGateway(t)
		_ = g.HandleMessage("farm/command/alarm/HIGH-TEMP", []byte(`{"id":"m1","command":"mute","duration":"15m"}`))
		if ack := client.ack(t, "m1"); ack.Status != AckAccepted {
			t.Errorf("ack = %+v", ack)
		}
		if al.muted != 15*time.Minute {
			t.Errorf("muted for %v, want 15m", al.muted)
		}
	})

	t.Run("mute without duration", func(t *testing.T) {
		g, client, _, _ := newTestGateway(t)
		_ = g.HandleMessage("farm/command/alarm/HIGH-TEMP", []byte(`{"id":"m2","command":"mute"}`))
		if ack := client.ack(t, "m2"); ack.Status != AckRejected {
			t.Errorf("ack = %+v, want rejected", ack)
		}
	})

	t.Run("acknowledge inactive", func(t *testing.T) {
		g, client, _, al := newTestGateway(t)
		al.err = alarm.ErrNotActive
		_ = g.HandleMessage("farm/command/alarm/HIGH-TEMP", []byte(`{"id":"a1","command":"acknowledge"}`))
		ack := client.ack(t, "a1")
		if ack.Status != AckRejected || !strings.Contains(ack.Error, "not active") {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("no alarm engine", func(t *testing.T) {
		client := newFakeClient()
		g := New(client, &fakeEquipment{}, nil, nil, Options{})
		_ = g.HandleMessage("farm/command/alarm/HIGH-TEMP", []byte(`{"id":"a2","command":"acknowledge"}`))
		if ack := client.ack(t, "a2"); ack.Status != AckNotFound {
			t.Errorf("ack = %+v, want not_found", ack)
		}
	})
}

func TestGateway_IgnoresForeignTopic(t *testing.T) {
	g, client, _, _ := newTestGateway(t)
	if err := g.HandleMessage("farm/state/equipment/FAN-1", []byte(`{}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("HandleMessage() error = %v", err)
	}
	if len(client.messages) != 0 {
		t.Errorf("published %d messages", len(client.messages))
	}
}

func TestGateway_RunMirrorsEvents(t *testing.T) {
	g, client, _, _ := newTestGateway(t)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for _, topic := range []string{"farm/state/equipment/FAN-1", "farm/state/equipment/PUMP-1", "farm/state/alarm/HIGH-TEMP", "farm/state/environment"} {
		msg, ok := client.find(topic)
		for !ok && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
			msg, ok = client.find(topic)
		}
		if !ok || !msg.retained {
			t.Errorf("initial state %s missing or not retained", topic)
		}
	}

	bus.Publish(events.TypeEquipmentStatus, "FAN-1", equipment.Status{Name: "FAN-1", CommandedOn: true})
	bus.Publish(events.TypeEquipmentBlocked, "PUMP-1", equipment.BlockedPayload{Equipment: "PUMP-1"})

	var st equipment.Status
	for time.Now().Before(deadline) {
		if msg, ok := client.find("farm/state/equipment/FAN-1"); ok {
			_ = json.Unmarshal(msg.payload, &st)
			if st.CommandedOn {
				break
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !st.CommandedOn {
		t.Error("equipment change not mirrored")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
