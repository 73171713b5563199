package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hipsterbrown/cds55xx-servo/cds55xx"
	"github.com/hipsterbrown/cds55xx-servo/internal/bridge"
	"github.com/hipsterbrown/cds55xx-servo/internal/config"
	"github.com/hipsterbrown/cds55xx-servo/transports"
)

// runner holds the state shared by every command.
type runner struct {
	cfg    *config.Config
	logger *zap.Logger
	dryRun bool
	out    io.Writer
}

// openCodec returns a codec bound to the serial bus, or to stdout in dry-run
// mode. The returned func closes the bus.
func (r *runner) openCodec() (*cds55xx.Codec, func() error, error) {
	opts := []cds55xx.Option{
		cds55xx.WithLogger(r.logger),
		cds55xx.WithClampObserver(func(cl cds55xx.Clamp) {
			r.logger.Warn("value out of range",
				zap.Uint8("id", cl.ID),
				zap.String("field", cl.Field),
				zap.Int16("requested", cl.Requested),
				zap.Int16("applied", cl.Applied),
			)
		}),
	}

	if r.dryRun {
		tx := cds55xx.TransmitFunc(func(ctx context.Context, frame []byte) error {
			_, err := fmt.Fprintf(r.out, "% X\n", frame)
			return err
		})
		return cds55xx.NewCodec(tx, opts...), func() error { return nil }, nil
	}

	if r.cfg.Port == "" {
		return nil, nil, errors.New("no serial port: set --port or port in the config file")
	}
	bus, err := cds55xx.NewBus(cds55xx.BusConfig{
		Port:          r.cfg.Port,
		BaudRate:      r.cfg.BaudRate,
		MinCommandGap: r.cfg.MinCommandGap,
		Logger:        r.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return cds55xx.NewCodec(bus, opts...), bus.Close, nil
}

// withCodec runs fn against an open codec and closes it afterwards.
func (r *runner) withCodec(c *cli.Context, fn func(ctx context.Context, codec *cds55xx.Codec) error) error {
	codec, closeFn, err := r.openCodec()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(c.Context, codec)
}

// servoID resolves a numeric ID or a servo name from the config file.
func (r *runner) servoID(arg string) (byte, error) {
	if id, err := strconv.Atoi(arg); err == nil {
		if id < 0 || id > cds55xx.MaxServoID {
			return 0, fmt.Errorf("%w: %d", cds55xx.ErrInvalidID, id)
		}
		return byte(id), nil
	}
	if s, ok := r.cfg.ServoByName(arg); ok {
		return byte(s.ID), nil
	}
	return 0, fmt.Errorf("unknown servo %q", arg)
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s expects %d arguments, got %d (usage: %s)",
			c.Command.Name, n, c.NArg(), c.Command.ArgsUsage)
	}
	return nil
}

func parseInt16(field, s string) (int16, error) {
	v, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return int16(v), nil
}

func (r *runner) mode(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	var id byte
	if c.Args().Get(0) == "all" {
		id = cds55xx.BroadcastID
	} else {
		var err error
		if id, err = r.servoID(c.Args().Get(0)); err != nil {
			return err
		}
	}

	mode, ok := cds55xx.ParseMode(c.Args().Get(1))
	if !ok {
		return fmt.Errorf("%w: %q", cds55xx.ErrInvalidMode, c.Args().Get(1))
	}

	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		return codec.SetMode(ctx, id, mode)
	})
}

func (r *runner) position(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	id, err := r.servoID(c.Args().Get(0))
	if err != nil {
		return err
	}
	pos, err := parseInt16("position", c.Args().Get(1))
	if err != nil {
		return err
	}
	speed, err := parseInt16("speed", strconv.Itoa(c.Int(flagSpeed)))
	if err != nil {
		return err
	}

	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		return codec.SetPosition(ctx, id, pos, speed)
	})
}

func (r *runner) angle(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	id, err := r.servoID(c.Args().Get(0))
	if err != nil {
		return err
	}
	degrees, err := strconv.ParseFloat(c.Args().Get(1), 64)
	if err != nil {
		return fmt.Errorf("invalid angle %q: %w", c.Args().Get(1), err)
	}

	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		servos, err := r.cfg.BuildServos(codec)
		if err != nil {
			return err
		}
		group := cds55xx.NewServoGroup(codec, servos...)
		servo := group.ServoByID(int(id))
		if servo == nil {
			servo = cds55xx.NewServo(codec, int(id), nil)
		}
		return servo.SetAngle(ctx, degrees, c.Int(flagSpeed))
	})
}

func (r *runner) speed(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	id, err := r.servoID(c.Args().Get(0))
	if err != nil {
		return err
	}
	speed, err := parseInt16("speed", c.Args().Get(1))
	if err != nil {
		return err
	}

	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		return codec.SetSpeed(ctx, id, speed)
	})
}

// parseUnits splits ID:V1[:V2] arguments into IDs and value columns.
func (r *runner) parseUnits(args []string, fields ...string) ([]byte, [][]int16, error) {
	ids := make([]byte, len(args))
	values := make([][]int16, len(fields))
	for i := range values {
		values[i] = make([]int16, len(args))
	}

	for i, arg := range args {
		parts := strings.Split(arg, ":")
		if len(parts) != len(fields)+1 {
			return nil, nil, fmt.Errorf("invalid unit %q: want ID:%s", arg, strings.ToUpper(strings.Join(fields, ":")))
		}
		id, err := r.servoID(parts[0])
		if err != nil {
			return nil, nil, err
		}
		ids[i] = id
		for j, field := range fields {
			if values[j][i], err = parseInt16(field, parts[j+1]); err != nil {
				return nil, nil, err
			}
		}
	}
	return ids, values, nil
}

func (r *runner) syncPosition(c *cli.Context) error {
	ids, values, err := r.parseUnits(c.Args().Slice(), "position", "speed")
	if err != nil {
		return err
	}
	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		return codec.SyncWritePositionSpeed(ctx, ids, values[0], values[1])
	})
}

func (r *runner) syncSpeed(c *cli.Context) error {
	ids, values, err := r.parseUnits(c.Args().Slice(), "speed")
	if err != nil {
		return err
	}
	return r.withCodec(c, func(ctx context.Context, codec *cds55xx.Codec) error {
		return codec.SyncWriteSpeed(ctx, ids, values[0])
	})
}

func (r *runner) decode(c *cli.Context) error {
	frame, err := decodeHex(strings.Join(c.Args().Slice(), ""))
	if err != nil {
		return err
	}
	p := cds55xx.NewProtocol()
	pkt, err := p.Decode(frame)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "id:          0x%02X\n", pkt.ID)
	fmt.Fprintf(r.out, "instruction: 0x%02X (%s)\n", pkt.Instruction, instructionName(pkt.Instruction))
	fmt.Fprintf(r.out, "parameters:  % X\n", pkt.Parameters)
	for _, line := range describe(p, pkt) {
		fmt.Fprintln(r.out, line)
	}
	return nil
}

// describe interprets the parameters of mode writes and goal position sync
// writes.
func describe(p *cds55xx.Protocol, pkt cds55xx.Packet) []string {
	params := pkt.Parameters
	switch {
	case pkt.Instruction == cds55xx.InstWrite && len(params) == 2 && params[0] == cds55xx.RegMode.Address:
		return []string{fmt.Sprintf("mode:        %s", cds55xx.ModeName(params[1]))}

	case pkt.Instruction == cds55xx.InstSyncWrite && len(params) >= 2 && params[0] == cds55xx.RegGoalPosition.Address:
		dataLen := int(params[1])
		if dataLen != cds55xx.RegGoalPosition.Size+cds55xx.RegMovingSpeed.Size {
			return nil
		}
		var lines []string
		order := p.ByteOrder()
		for unit := params[2:]; len(unit) >= 1+dataLen; unit = unit[1+dataLen:] {
			lines = append(lines, fmt.Sprintf("unit:        id=%d position=%d speed=%d",
				unit[0], order.Uint16(unit[1:3]), order.Uint16(unit[3:5])))
		}
		return lines
	}
	return nil
}

func instructionName(inst byte) string {
	switch inst {
	case cds55xx.InstRead:
		return "read"
	case cds55xx.InstWrite:
		return "write"
	case cds55xx.InstSyncWrite:
		return "sync write"
	default:
		return "unknown"
	}
}

// decodeHex accepts hex with optional separators and 0x prefixes.
func decodeHex(s string) ([]byte, error) {
	s = strings.NewReplacer(
		" ", "", "\t", "", "\n", "", ",", "", ":", "", "-", "",
		"0x", "", "0X", "",
	).Replace(strings.TrimSpace(s))
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd hex length: %d", len(s))
	}
	return hex.DecodeString(s)
}

func (r *runner) bridge(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, closeFn, err := r.openCodec()
	if err != nil {
		return err
	}
	defer closeFn()

	client, err := bridge.Connect(r.cfg.MQTT)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	b := bridge.New(codec, r.cfg.MQTT, r.logger)
	if err := b.Subscribe(client); err != nil {
		return err
	}

	r.logger.Info("bridge running", zap.String("broker", r.cfg.MQTT.Broker))
	if err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *runner) ports(c *cli.Context) error {
	ports, err := transports.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(r.out, p)
	}
	return nil
}
