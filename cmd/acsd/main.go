// Command acsd runs the cron scheduling daemon core (spec.md): the Job
// Store, Log Store, Event Bus, Scheduler, Dispatcher and Executor, wired
// together and supervised by internal/lifecycle. The HTTP/SSE transport
// spec.md describes as the "outer collaborator" is out of scope (spec.md
// §1 Non-goals) - this binary runs the core standalone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acsd/internal/config"
	"acsd/internal/lifecycle"
	logx "acsd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./acsd.json", "path to daemon config (JSON or YAML)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		fmt.Println("fatal: load config:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	log = log.With(logx.String("comp", "acsd"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ctrl, err := lifecycle.Open(*cfg, log)
	if err != nil {
		log.Error("fatal: open lifecycle controller", logx.Err(err))
		os.Exit(1)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- ctrl.Run(ctx) }()

	<-ctx.Done()
	reason := lifecycle.StopSignal
	if err := <-runErrCh; err != nil {
		reason = lifecycle.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	if err := ctrl.Stop(stopCtx, reason); err != nil {
		log.Error("fatal: stop lifecycle controller", logx.Err(err))
		os.Exit(1)
	}
}
