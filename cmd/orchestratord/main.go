package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/modulehub/orchestrator/internal/server"
)

func buildLogger(level string) (*slog.Logger, *slog.LevelVar) {
	levelVar := &slog.LevelVar{}
	switch strings.ToLower(level) {
	case "trace", "debug":
		levelVar.Set(slog.LevelDebug)
	case "", "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error", "fatal":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	return slog.New(handler), levelVar
}

func buildJobLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

func main() {
	var cmd server.DaemonCommand
	logger, levelVar := buildLogger(os.Getenv("LOG_LEVEL"))
	cmd.Logger = logger
	cmd.LevelVar = levelVar
	cmd.JobLogger = buildJobLogger(os.Getenv("LOG_LEVEL"))

	parser := flags.NewNamedParser("orchestratord", flags.Default)
	if _, err := parser.AddGroup("daemon", "daemon options", &cmd); err != nil {
		logger.Error("failed to register options", "error", err)
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cmd.Execute(nil); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}
