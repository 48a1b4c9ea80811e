package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pharmabot/dispenser-controller/cmd"
)

func main() {
	app := &cli.App{
		Name:   "dispenser-controller",
		Usage:  "coordination core for pharmabot medication dispensers",
		Action: cmd.ControllerCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				EnvVars:  []string{"DATABASE_URL"},
				Value:    "",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "migrations-folder",
				EnvVars: []string{"MIGRATIONS_FOLDER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				EnvVars: []string{"LISTEN_ADDR"},
				Value:   "0.0.0.0:8000",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.StringFlag{
				Name:    "timezone",
				EnvVars: []string{"TIMEZONE"},
				Value:   "Asia/Dhaka",
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				EnvVars: []string{"HEARTBEAT_INTERVAL"},
				Value:   60 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "device-poll-interval",
				EnvVars: []string{"DEVICE_POLL_INTERVAL"},
				Value:   10 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "scan-interval",
				EnvVars: []string{"SCAN_INTERVAL"},
				Value:   30 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "dispatch-timeout",
				EnvVars: []string{"DISPATCH_TIMEOUT"},
				Value:   0,
			},
			&cli.IntFlag{
				Name:    "dispatch-retry-max",
				EnvVars: []string{"DISPATCH_RETRY_MAX"},
				Value:   3,
			},
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
