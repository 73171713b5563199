// Package bridge forwards JSON motion commands received over MQTT to a
// cds55xx codec.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hipsterbrown/cds55xx-servo/cds55xx"
	"github.com/hipsterbrown/cds55xx-servo/internal/config"
)

// Command operations.
const (
	OpMode         = "mode"
	OpPosition     = "position"
	OpSpeed        = "speed"
	OpSyncPosition = "sync_position"
	OpSyncSpeed    = "sync_speed"
)

var (
	// ErrUnknownOp is returned for a command whose op is not recognized.
	ErrUnknownOp = errors.New("unknown command op")
	// ErrMissingField is returned when a command omits a value its op needs.
	ErrMissingField = errors.New("missing command field")
)

// Command is one JSON message on the command topic, e.g.
//
//	{"op": "position", "id": 1, "position": 512, "speed": 100}
//	{"op": "sync_speed", "units": [{"id": 1, "speed": -300}, {"id": 2, "speed": 300}]}
type Command struct {
	Op       string `json:"op"`
	ID       int    `json:"id"`
	Mode     string `json:"mode,omitempty"`
	Position *int   `json:"position,omitempty"`
	Speed    *int   `json:"speed,omitempty"`
	Units    []Unit `json:"units,omitempty"`
}

// Unit is one servo entry of a sync command.
type Unit struct {
	ID       int  `json:"id"`
	Position *int `json:"position,omitempty"`
	Speed    *int `json:"speed,omitempty"`
}

// DecodeCommand parses and checks a command payload.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to parse command: %w", err)
	}

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks the op, every servo ID and the values the op needs.
func (cmd Command) Validate() error {
	switch cmd.Op {
	case OpMode:
		if _, ok := cds55xx.ParseMode(cmd.Mode); !ok {
			return fmt.Errorf("%w: %q", cds55xx.ErrInvalidMode, cmd.Mode)
		}
		// Mode writes may target every servo at once.
		if cmd.ID < 0 || cmd.ID > int(cds55xx.BroadcastID) {
			return fmt.Errorf("%w: %d", cds55xx.ErrInvalidID, cmd.ID)
		}
	case OpPosition:
		if err := checkID(cmd.ID); err != nil {
			return err
		}
		return checkFields(cmd.Op, cmd.ID, cmd.Position, cmd.Speed)
	case OpSpeed:
		if err := checkID(cmd.ID); err != nil {
			return err
		}
		return checkFields(cmd.Op, cmd.ID, nil, cmd.Speed)
	case OpSyncPosition, OpSyncSpeed:
		for _, u := range cmd.Units {
			if err := checkID(u.ID); err != nil {
				return err
			}
			if err := checkFields(cmd.Op, u.ID, u.Position, u.Speed); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
	return nil
}

// checkFields reports a missing speed, and a missing position for ops that
// move to a position.
func checkFields(op string, id int, position, speed *int) error {
	if (op == OpPosition || op == OpSyncPosition) && position == nil {
		return fmt.Errorf("%w: %s for servo %d needs position", ErrMissingField, op, id)
	}
	if speed == nil {
		return fmt.Errorf("%w: %s for servo %d needs speed", ErrMissingField, op, id)
	}
	return nil
}

func checkID(id int) error {
	if id < 0 || id > cds55xx.MaxServoID {
		return fmt.Errorf("%w: %d", cds55xx.ErrInvalidID, id)
	}
	return nil
}

// Bridge queues decoded commands and executes them one at a time.
type Bridge struct {
	codec  *cds55xx.Codec
	logger *zap.Logger
	topic  string
	qos    byte
	queue  chan Command
}

// New creates a bridge for the given codec.
func New(codec *cds55xx.Codec, cfg config.MQTTConfig, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = config.DefaultQueueSize
	}
	return &Bridge{
		codec:  codec,
		logger: logger,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		queue:  make(chan Command, size),
	}
}

// Connect creates and connects a paho client for the configured broker.
func Connect(cfg config.MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is not configured")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	return client, nil
}

// Subscriber is the part of mqtt.Client the bridge needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscribe registers the bridge's handler on the command topic.
func (b *Bridge) Subscribe(client Subscriber) error {
	b.logger.Info("subscribing", zap.String("topic", b.topic), zap.Uint8("qos", b.qos))
	token := client.Subscribe(b.topic, b.qos, b.HandleMessage)
	token.Wait()
	return token.Error()
}

// HandleMessage decodes a message and queues it. Invalid payloads are dropped,
// as are commands arriving while the queue is full.
func (b *Bridge) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := DecodeCommand(msg.Payload())
	if err != nil {
		b.logger.Warn("dropping command",
			zap.String("topic", msg.Topic()),
			zap.ByteString("payload", msg.Payload()),
			zap.Error(err),
		)
		return
	}

	select {
	case b.queue <- cmd:
	default:
		b.logger.Warn("command queue full, dropping command", zap.String("op", cmd.Op))
	}
}

// Run executes queued commands until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-b.queue:
			if err := b.Execute(ctx, cmd); err != nil {
				b.logger.Warn("command failed", zap.String("op", cmd.Op), zap.Error(err))
			}
		}
	}
}

// Execute sends one command through the codec.
func (b *Bridge) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Op {
	case OpMode:
		mode, _ := cds55xx.ParseMode(cmd.Mode)
		return b.codec.SetMode(ctx, byte(cmd.ID), mode)
	case OpPosition:
		return b.codec.SetPosition(ctx, byte(cmd.ID), saturate(*cmd.Position), saturate(*cmd.Speed))
	case OpSpeed:
		return b.codec.SetSpeed(ctx, byte(cmd.ID), saturate(*cmd.Speed))
	case OpSyncPosition:
		ids := make([]byte, len(cmd.Units))
		positions := make([]int16, len(cmd.Units))
		speeds := make([]int16, len(cmd.Units))
		for i, u := range cmd.Units {
			ids[i] = byte(u.ID)
			positions[i] = saturate(*u.Position)
			speeds[i] = saturate(*u.Speed)
		}
		return b.codec.SyncWritePositionSpeed(ctx, ids, positions, speeds)
	case OpSyncSpeed:
		ids := make([]byte, len(cmd.Units))
		speeds := make([]int16, len(cmd.Units))
		for i, u := range cmd.Units {
			ids[i] = byte(u.ID)
			speeds[i] = saturate(*u.Speed)
		}
		return b.codec.SyncWriteSpeed(ctx, ids, speeds)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
}

func saturate(v int) int16 {
	return int16(max(-1<<15, min(v, 1<<15-1)))
}
