package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/environment"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

const (
	defaultCommandTimeout = 5 * time.Second
	eventBuffer           = 256
)

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the MQTT surface the gateway needs. *mqtt.Client implements it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// EquipmentService executes equipment commands. *equipment.Manager implements it.
type EquipmentService interface {
	TurnOn(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	TurnOff(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	SetAuto(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	SetManual(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	List() []equipment.Status
}

// AlarmService executes alarm commands. *alarm.Engine implements it.
type AlarmService interface {
	MuteAlarm(ctx context.Context, name string, d time.Duration) (alarm.Status, error)
	AcknowledgeAlarm(ctx context.Context, name string) (alarm.Status, error)
	States() []alarm.Status
}

// EnvironmentService reports the environment controller state.
// *environment.Controller implements it.
type EnvironmentService interface {
	Status() environment.Status
}

// Bus is the change feed. *events.Bus implements it.
type Bus interface {
	Subscribe(buffer int, types ...events.Type) *events.Subscription
}

// Metrics receives gateway counters.
type Metrics interface {
	IncRestart(actor string)
}

type noopMetrics struct{}

func (noopMetrics) IncRestart(string) {}

// Options configures the gateway.
type Options struct {
	// QoS is used for command subscriptions, acks and state messages.
	QoS byte

	// CommandTimeout bounds each command. Zero means 5s.
	CommandTimeout time.Duration
}

// Gateway connects MQTT commands and state topics to the control core.
type Gateway struct {
	client  Client
	equip   EquipmentService
	alarms  AlarmService
	env     EnvironmentService
	opts    Options
	topics  mqtt.Topics
	logger  Logger
	metrics Metrics
	now     func() time.Time

	// ctx bounds command handling. It is set by Subscribe.
	ctx context.Context
}

// New creates a gateway. alarms and env may be nil when the plant has no
// alarm rules or environment controller.
func New(client Client, equip EquipmentService, alarms AlarmService, env EnvironmentService, opts Options) *Gateway {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	return &Gateway{
		client:  client,
		equip:   equip,
		alarms:  alarms,
		env:     env,
		opts:    opts,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		now:     time.Now,
		ctx:     context.Background(),
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// SetMetrics sets the metrics sink.
func (g *Gateway) SetMetrics(m Metrics) {
	g.metrics = m
}

// Subscribe registers the command topic handlers. Commands are cancelled
// when ctx ends.
func (g *Gateway) Subscribe(ctx context.Context) error {
	g.ctx = ctx
	if err := g.client.Subscribe(g.topics.AllEquipmentCommands(), g.opts.QoS, g.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to equipment commands: %w", err)
	}
	if g.alarms != nil {
		if err := g.client.Subscribe(g.topics.AllAlarmCommands(), g.opts.QoS, g.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to alarm commands: %w", err)
		}
	}
	return nil
}

// Start runs the state mirror as a supervised actor named "gateway".
func (g *Gateway) Start(ctx context.Context, sup *supervisor.Supervisor, bus Bus) error {
	return sup.Go(ctx, supervisor.Config{
		Name: "gateway",
		Run: func(ctx context.Context) error {
			return g.Run(ctx, bus)
		},
		OnRestart: func(int, error) {
			g.metrics.IncRestart("gateway")
		},
	})
}

// Run publishes a full state snapshot, then mirrors change events to
// retained state topics until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, bus Bus) error {
	sub := bus.Subscribe(eventBuffer, events.TypeEquipmentStatus, events.TypeAlarmState, events.TypeEnvironmentStep)
	defer sub.Close()

	g.PublishAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			g.publishEvent(ev)
		}
	}
}

// PublishAll publishes the current state of every target. It is also
// called after a broker reconnect.
func (g *Gateway) PublishAll() {
	for _, st := range g.equip.List() {
		g.publishState(g.topics.EquipmentState(st.Name), st)
	}
	if g.alarms != nil {
		for _, st := range g.alarms.States() {
			g.publishState(g.topics.AlarmState(st.Rule), st)
		}
	}
	if g.env != nil {
		g.publishState(g.topics.EnvironmentState(), g.env.Status())
	}
}

func (g *Gateway) publishEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeEquipmentStatus:
		g.publishState(g.topics.EquipmentState(ev.Subject), ev.Payload)
	case events.TypeAlarmState:
		g.publishState(g.topics.AlarmState(ev.Subject), ev.Payload)
	case events.TypeEnvironmentStep:
		g.publishState(g.topics.EnvironmentState(), ev.Payload)
	}
}

func (g *Gateway) publishState(topic string, state any) {
	payload, err := json.Marshal(state)
	if err != nil {
		g.logger.Error("failed to marshal state", "topic", topic, "error", err)
		return
	}
	if err := g.client.Publish(topic, payload, g.opts.QoS, true); err != nil {
		g.logger.Warn("failed to publish state", "topic", topic, "error", err)
	}
}

// HandleMessage processes one command topic message. It always answers
// on the ack topic; the returned error is for the MQTT client's log.
func (g *Gateway) HandleMessage(topic string, payload []byte) error {
	kind, name, ok := g.topics.ParseCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
	}

	var cmd CommandMessage
	decodeErr := json.Unmarshal(payload, &cmd)
	if decodeErr == nil && strings.ContainsAny(cmd.ID, "/+#") {
		decodeErr = fmt.Errorf("id %q is not a single topic level", cmd.ID)
		cmd.ID = ""
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	ack := AckMessage{
		RequestID: cmd.ID,
		Target:    kind,
		Name:      name,
		Command:   cmd.Command,
	}

	var err error
	if decodeErr != nil {
		err = fmt.Errorf("%w: %w", ErrBadPayload, decodeErr)
	} else {
		ctx, cancel := context.WithTimeout(g.ctx, g.opts.CommandTimeout)
		switch kind {
		case mqtt.TargetEquipment:
			ack.State, err = g.equipmentCommand(ctx, name, cmd)
		case mqtt.TargetAlarm:
			ack.State, err = g.alarmCommand(ctx, name, cmd)
		}
		cancel()
	}

	ack.Status, ack.BlockedBy = classify(err)
	if err != nil {
		ack.Error = err.Error()
		ack.State = nil
		g.logger.Info("command not applied", "target", kind, "name", name, "command", cmd.Command,
			"status", string(ack.Status), "error", err)
	} else {
		g.logger.Debug("command applied", "target", kind, "name", name, "command", cmd.Command)
	}
	g.publishAck(ack)
	return nil
}

func (g *Gateway) equipmentCommand(ctx context.Context, name string, cmd CommandMessage) (any, error) {
	var fn func(context.Context, string, equipment.Source) (equipment.Status, error)
	switch cmd.Command {
	case CommandOn:
		fn = g.equip.TurnOn
	case CommandOff:
		fn = g.equip.TurnOff
	case CommandAuto:
		fn = g.equip.SetAuto
	case CommandManual:
		fn = g.equip.SetManual
	default:
		return nil, fmt.Errorf("%w: %q for equipment", ErrUnknownCommand, cmd.Command)
	}
	st, err := fn(ctx, name, equipment.SourceOperator)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (g *Gateway) alarmCommand(ctx context.Context, name string, cmd CommandMessage) (any, error) {
	if g.alarms == nil {
		return nil, alarm.ErrRuleNotFound
	}
	var (
		st  alarm.Status
		err error
	)
	switch cmd.Command {
	case CommandMute:
		d, perr := time.ParseDuration(cmd.Duration)
		if perr != nil {
			return nil, fmt.Errorf("%w: duration %q", ErrBadPayload, cmd.Duration)
		}
		st, err = g.alarms.MuteAlarm(ctx, name, d)
	case CommandAcknowledge:
		st, err = g.alarms.AcknowledgeAlarm(ctx, name)
	default:
		return nil, fmt.Errorf("%w: %q for alarm", ErrUnknownCommand, cmd.Command)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (g *Gateway) publishAck(ack AckMessage) {
	ack.Timestamp = g.now().UTC()
	payload, err := json.Marshal(ack)
	if err != nil {
		g.logger.Error("failed to marshal ack", "request_id", ack.RequestID, "error", err)
		return
	}
	if err := g.client.Publish(g.topics.Ack(ack.RequestID), payload, g.opts.QoS, false); err != nil {
		g.logger.Warn("failed to publish ack", "request_id", ack.RequestID, "error", err)
	}
}
