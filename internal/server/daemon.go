// Package server wires the C1-C8 components into a running daemon: the
// DaemonCommand boot/start/shutdown sequence mirrors the teacher's
// cli.DaemonCommand (cli/daemon.go), replacing its Docker/web-UI surface
// with the module registry, session hub, scheduler, and watchdog this spec
// calls for.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/scheduler"
	"github.com/modulehub/orchestrator/internal/session"
	"github.com/modulehub/orchestrator/internal/store"
	"github.com/modulehub/orchestrator/internal/tracker"
	"github.com/modulehub/orchestrator/internal/watchdog"
)

// DaemonCommand is the daemon process's CLI/env configuration (spec §6's
// configuration table) plus its runtime state, following the teacher's
// flat-struct-with-tags command pattern.
type DaemonCommand struct {
	ListenAddr               string `long:"listen-address" env:"LISTEN_ADDRESS" description:"HTTP/websocket listen address" default:":8080"`
	WorkflowsFile            string `long:"workflows-file" env:"WORKFLOWS_FILE" description:"YAML file seeding workflows and modules"`
	WebsocketTimeoutSeconds  int    `long:"websocket-timeout-seconds" env:"WEBSOCKET_TIMEOUT_SECONDS" description:"Session-alive timeout W" default:"120"`
	ExecutionTimeoutSeconds  int    `long:"execution-timeout-seconds" env:"EXECUTION_TIMEOUT_SECONDS" description:"Per-dispatch timeout E" default:"120"`
	TimeZone                 string `long:"time-zone" env:"TIME_ZONE" description:"Local zone L" default:"Asia/Shanghai"`
	UseTZ                    bool   `long:"use-tz" env:"USE_TZ" description:"Selects scheduler zone S (UTC if true, else L)"`
	NotificationEmail        string `long:"notification-email" env:"NOTIFICATION_EMAIL" description:"Default destination for C8"`
	EmailAPIURL              string `long:"email-api-url" env:"EMAIL_API_URL" description:"External HTTP mail gateway endpoint, POSTed {to_email,subject,content,content_type}"`
	NotificationCooldownSecs int    `long:"notification-cooldown-seconds" env:"NOTIFICATION_COOLDOWN_SECONDS" description:"Dedup cooldown for repeat notifications" default:"300"`

	Logger    *slog.Logger
	LevelVar  *slog.LevelVar
	JobLogger *logrus.Logger

	registry  *registry.Registry
	tracker   *tracker.Tracker
	hub       *session.Hub
	scheduler *scheduler.Scheduler
	watchdog  *watchdog.Watchdog
	store     store.Store
	echo      *echo.Echo

	done chan struct{}
}

// Execute runs boot, start, and blocks in shutdown, mirroring the teacher's
// DaemonCommand.Execute.
func (c *DaemonCommand) Execute(_ []string) error {
	if err := c.boot(); err != nil {
		return err
	}
	if err := c.start(); err != nil {
		return err
	}
	return c.shutdown()
}

func (c *DaemonCommand) boot() error {
	c.done = make(chan struct{})

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		c.Logger.Warn("unknown time zone, falling back to UTC", "time_zone", c.TimeZone, "error", err)
		loc = time.UTC
	}
	clockModel := clock.New(clock.NewRealClock(), loc, c.UseTZ)

	fileStore, err := store.LoadFile(c.WorkflowsFile)
	if err != nil {
		return fmt.Errorf("load workflows file: %w", err)
	}
	c.store = fileStore

	c.registry = registry.New(clockModel, c.Logger)
	c.tracker = tracker.New()

	var baseNotifier notify.Notifier = notify.NopNotifier{}
	if c.NotificationEmail != "" && c.EmailAPIURL != "" {
		if mailer := notify.NewMail(notify.MailConfig{
			EmailAPIURL: c.EmailAPIURL,
			EmailTo:     c.NotificationEmail,
		}, c.JobLogger); mailer != nil {
			baseNotifier = mailer
		}
	} else {
		c.Logger.Warn("NOTIFICATION_EMAIL/EMAIL_API_URL not fully configured, notifications are discarded")
	}
	notifier := notify.NewDedup(baseNotifier, time.Duration(c.NotificationCooldownSecs)*time.Second)

	c.hub = session.New(c.registry, c.tracker, notifier, clockModel, c.Logger)

	c.scheduler = scheduler.New(scheduler.Deps{
		Clock:    clockModel,
		Registry: c.registry,
		Tracker:  c.tracker,
		Hub:      c.hub,
		Notifier: notifier,
		Store:    c.store,
		Log:      c.Logger,
		JobLog:   c.JobLogger,
	})

	c.watchdog = watchdog.New(clockModel, clock.NewRealClock(), c.registry, c.tracker, notifier, nil, c.Logger, watchdog.Config{
		WebsocketTimeout: time.Duration(c.WebsocketTimeoutSeconds) * time.Second,
		ExecutionTimeout: time.Duration(c.ExecutionTimeoutSeconds) * time.Second,
	})

	c.echo = echo.New()
	c.echo.HideBanner = true
	c.hub.RegisterWebSocketRoute(c.echo, "/ws", c.Logger)
	c.registerAdminRoutes(c.echo)

	if err := c.scheduler.ReloadAll(); err != nil {
		c.Logger.Warn("initial reload_all failed", "error", err)
	}

	return nil
}

func (c *DaemonCommand) start() error {
	c.scheduler.Start()
	c.watchdog.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := c.echo.Start(c.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			c.Logger.Info("shutdown signal received")
		case err := <-errCh:
			c.Logger.Error("http server failed", "error", err)
		}
		close(c.done)
	}()

	c.Logger.Info("orchestrator daemon running", "address", c.ListenAddr)
	return nil
}

func (c *DaemonCommand) shutdown() error {
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.echo.Shutdown(ctx); err != nil {
		c.Logger.Warn("http server shutdown error", "error", err)
	}

	c.watchdog.Stop()
	if !c.scheduler.Stop(30 * time.Second) {
		c.Logger.Warn("scheduler stop timed out, some fires may still be running")
	}
	c.Logger.Info("orchestrator daemon stopped")
	return nil
}
