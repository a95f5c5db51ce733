package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/core"
	"github.com/rafabd1/Wildfuzz/internal/networking"
	"github.com/rafabd1/Wildfuzz/internal/output"
	"github.com/rafabd1/Wildfuzz/internal/report"
	"github.com/rafabd1/Wildfuzz/internal/telemetry"
	"github.com/rafabd1/Wildfuzz/internal/template"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

const progressBarWidth = 30

func runScan(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if len(args) == 1 && !cmd.Flags().Changed("url") {
		v.Set("url", args[0])
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	tc := output.NewStderrController()
	logger := utils.NewLogger(utils.LoggerOptions{
		Level:   utils.StringToLogLevel(cfg.Verbosity),
		NoColor: cfg.NoColor || !tc.IsTerminal(),
		Silent:  cfg.Silent,
		Output:  tc,
	})
	defer utils.SyncLogger(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ParsedProxies, err = utils.ParseProxyInput(cfg.ProxyInput, logger); err != nil {
		return err
	}
	logger.Debugf("Configuration: %s", cfg)

	tpl, base, err := loadTemplate(cfg)
	if err != nil {
		return err
	}

	domainManager := networking.NewDomainManager(cfg, logger)
	client, err := networking.NewClient(cfg, domainManager, logger)
	if err != nil {
		return fmt.Errorf("error creating HTTP client: %w", err)
	}

	engine, err := core.NewEngine(cfg, core.Options{
		Client:   client,
		Producer: core.NewWordlistProducer(cfg, logger),
		Template: tpl,
		BaseURL:  base,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	if cfg.QuarantineThreshold > 0 && cfg.QuarantineCooldown > 0 {
		core.NewQuarantineCooldown(engine, cfg.QuarantineCooldown, cfg.QuarantineMaxWait)
	}

	reporter := report.NewReporter(cfg.TargetURL, liveWriter(cfg, tc), logger)
	engine.AddListener(reporter)

	metrics, err := telemetry.NewMetricsListener(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("error creating metrics: %w", err)
	}
	engine.AddListener(metrics)

	if !cfg.NoProgress && !cfg.Silent && tc.IsTerminal() {
		pb := output.NewProgressBar(tc, progressBarWidth, "")
		pb.Start()
		defer pb.Stop()
		engine.AddListener(pb)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.StartScan(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	final, err := waitForScan(ctx, engine, logger)
	if err != nil {
		return err
	}

	counters := engine.Counters()
	reporter.SetCounters(counters)
	logger.Infof("Scan %s: %d/%d requests, %d errors, %d findings", final, counters.Completed, counters.Total, counters.Errors, len(reporter.Findings()))

	if err := reporter.GenerateReport(cfg.OutputFile, cfg.OutputFormat); err != nil {
		return fmt.Errorf("error generating report: %w", err)
	}
	if final == core.StateError {
		return errors.New("scan ended with an error, see the log above")
	}
	return nil
}

// waitForScan blocks until the engine reaches a terminal state. A signal on
// ctx stops the scan instead of abandoning it, so the report still gets written.
func waitForScan(ctx context.Context, engine *core.Engine, logger utils.Logger) (core.FuzzerState, error) {
	var final core.FuzzerState
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		state, err := engine.Wait(context.Background())
		final = state
		return err
	})
	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-gctx.Done():
		}
		logger.Warnf("Interrupt signal received. Stopping scan...")
		if err := engine.StopScan(); err != nil && !errors.Is(err, core.ErrNotRunning) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return final, err
	}
	return final, nil
}

// loadTemplate builds the base request: the raw request file addressed to the
// target, or a GET on the target URL itself.
func loadTemplate(cfg *config.Config) (*template.Template, *url.URL, error) {
	if cfg.RequestFile == "" {
		return template.FromURL(cfg.TargetURL, cfg.PayloadMarker)
	}
	// Only the scheme and host of the target are used with a request file.
	_, base, err := template.FromURL(cfg.TargetURL, cfg.PayloadMarker)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := template.FromFile(cfg.RequestFile, cfg.PayloadMarker)
	if err != nil {
		return nil, nil, err
	}
	return tpl, base, nil
}

// liveWriter is where findings are echoed as they arrive. They are kept off
// stdout when stdout carries a machine readable report.
func liveWriter(cfg *config.Config, tc *output.TerminalController) io.Writer {
	if cfg.OutputFile == "" && cfg.OutputFormat != "text" {
		return tc
	}
	return tc.Wrap(os.Stdout)
}
