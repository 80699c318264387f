package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"hark/internal/assistant"
	"hark/internal/config"
	"hark/internal/ipc"
	"hark/internal/observe"
	"hark/internal/session"
)

const stopTimeout = 5 * time.Second

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configPath := cli.StringP("config", "c", defaultConfigPath(), "Settings file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides settings)")
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	metricsAddr := cli.StringP("metrics", "m", "127.0.0.1:9464", "Prometheus listen address, empty to disable")
	cli.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Error("Invalid settings", "path", *configPath, "err", err)
		os.Exit(1)
	}

	level := settings.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[level],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up", "config", *configPath, "language", settings.Language)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, shutdown, err := observe.InitProvider()
	if err != nil {
		log.Warn("Metrics disabled", "err", err)
	} else {
		defer shutdown(context.Background())
		if *metricsAddr != "" {
			go func() {
				if err := observe.Serve(ctx, *metricsAddr); err != nil {
					log.Warn("Metrics endpoint failed", "addr", *metricsAddr, "err", err)
				}
			}()
		}
	}

	a := assistant.New(assistant.Build, metrics, log.Default())
	a.Session().Subscribe(session.LogObserver{Logger: log.Default()})
	go a.Session().Run(ctx)

	if err := a.Start(ctx, settings); err != nil {
		log.Error("Failed to start assistant", "err", err)
		os.Exit(1)
	}

	srv, err := ipc.Listen(*socket, control(a, stop), log.Default())
	if err != nil {
		log.Error("Failed ipc server", "socket", *socket, "err", err)
		a.Stop(stopTimeout)
		os.Exit(1)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Error("Control socket stopped", "err", err)
		}
	}()

	updates, err := config.Watch(ctx, *configPath, log.Default())
	if err != nil {
		log.Warn("Settings will not be reloaded", "err", err)
	}

	log.Info("Boot up - successful", "socket", *socket)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case s, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			log.Info("Settings changed")
			if err := a.Reconfigure(s, stopTimeout); err != nil {
				log.Error("Failed to apply settings", "err", err)
			}
		}
	}

	log.Info("Shutting down")
	if err := a.Stop(stopTimeout); err != nil {
		log.Error("Unclean shutdown", "err", err)
		os.Exit(1)
	}
}

// control maps socket commands onto the assistant.
func control(a *assistant.Assistant, shutdown context.CancelFunc) ipc.Handler {
	return func(_ context.Context, msg ipc.ControlMessage) ipc.ControlReply {
		var err error

		switch msg.Cmd {
		case ipc.CmdTrigger:
			err = a.Trigger()
		case ipc.CmdSuspend:
			a.Suspend()
		case ipc.CmdResume:
			a.Resume()
		case ipc.CmdSay:
			if msg.Text == "" {
				err = errors.New("say needs text")
				break
			}
			err = a.Say(msg.Text)
		case ipc.CmdStatus:
		case ipc.CmdStop:
			shutdown()
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			err = errors.New("unknown command " + msg.Cmd)
		}

		reply := ipc.ControlReply{OK: err == nil, State: a.Status().String()}
		if err != nil {
			reply.Error = err.Error()
		}
		return reply
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hark.yaml"
	}
	return filepath.Join(dir, "hark", "config.yaml")
}
