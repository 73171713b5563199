// Package main is the cds55xx command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hipsterbrown/cds55xx-servo/internal/config"
)

const (
	// Flags.
	flagConfig   = "config"
	flagPort     = "port"
	flagBaud     = "baud"
	flagLogLevel = "log-level"
	flagDryRun   = "dry-run"
	flagSpeed    = "speed"
)

func main() {
	r := &runner{}
	if err := newApp(r).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(r *runner) *cli.App {
	return &cli.App{
		Name:  "cds55xx",
		Usage: "command CDS55xx serial bus servos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:    flagPort,
				Aliases: []string{"p"},
				Usage:   "serial port `DEVICE`, e.g. /dev/ttyUSB0",
				EnvVars: []string{"CDS55XX_PORT"},
			},
			&cli.IntFlag{
				Name:  flagBaud,
				Usage: "baud rate",
				Value: config.DefaultBaudRate,
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  flagDryRun,
				Usage: "print frames as hex instead of sending them",
			},
		},
		Before: r.before,
		After:  r.after,
		Commands: append(motionCommands(r),
			&cli.Command{
				Name:        "encode",
				Usage:       "print the frame for a command without opening a port",
				Before:      func(*cli.Context) error { r.dryRun = true; return nil },
				Subcommands: motionCommands(r),
			},
			&cli.Command{
				Name:      "decode",
				Usage:     "check and print the fields of a frame",
				ArgsUsage: "HEX",
				Action:    r.decode,
			},
			&cli.Command{
				Name:   "bridge",
				Usage:  "execute JSON commands received over MQTT",
				Action: r.bridge,
			},
			&cli.Command{
				Name:   "ports",
				Usage:  "list serial ports",
				Action: r.ports,
			},
		),
	}
}

func motionCommands(r *runner) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "mode",
			Usage:     "set the operating mode of a servo, or of all servos",
			ArgsUsage: "SERVO|all servo|motor",
			Action:    r.mode,
		},
		{
			Name:      "position",
			Usage:     "move a servo to a goal position (0-1023)",
			ArgsUsage: "SERVO POSITION",
			Flags:     []cli.Flag{speedFlag()},
			Action:    r.position,
		},
		{
			Name:      "angle",
			Usage:     "move a servo to an angle in degrees from center",
			ArgsUsage: "SERVO DEGREES",
			Flags:     []cli.Flag{speedFlag()},
			Action:    r.angle,
		},
		{
			Name:      "speed",
			Usage:     "spin a servo in motor mode (-1023 to 1023)",
			ArgsUsage: "SERVO SPEED",
			Action:    r.speed,
		},
		{
			Name:      "sync-position",
			Usage:     "move several servos in one packet",
			ArgsUsage: "ID:POSITION:SPEED...",
			Action:    r.syncPosition,
		},
		{
			Name:      "sync-speed",
			Usage:     "set motor speeds of several servos in one packet",
			ArgsUsage: "ID:SPEED...",
			Action:    r.syncSpeed,
		},
	}
}

func speedFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    flagSpeed,
		Aliases: []string{"s"},
		Usage:   "moving speed, 0 is the servo's maximum",
	}
}

func (r *runner) before(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if c.IsSet(flagPort) {
		cfg.Port = c.String(flagPort)
	}
	if c.IsSet(flagBaud) {
		cfg.BaudRate = c.Int(flagBaud)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Level())
	if err != nil {
		return err
	}

	r.cfg = cfg
	r.logger = logger
	r.dryRun = c.Bool(flagDryRun)
	r.out = c.App.Writer
	return nil
}

func (r *runner) after(*cli.Context) error {
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	return nil
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	return cfg.Build()
}
