package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/codec"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/config"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/logging"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/pressure"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/regulator"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/review"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var configPath string

// #region main
func main() {
	root := &cobra.Command{
		Use:          "regulator",
		Short:        "Tune router weights from routing evidence",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan pressure, review idle decisions and regulate on a fixed tick",
		RunE:  runLoop,
	}
	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single regulation tick and print the result as JSON",
		RunE:  runOnce,
	}
	rollbackCmd := &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Make a prior weights version active again",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback,
	}
	root.AddCommand(runCmd, onceCmd, rollbackCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region wiring
// deps holds everything one regulation tick touches.
type deps struct {
	cfg      config.Config
	logger   *zap.Logger
	weights  *weights.Store
	monitor  *pressure.Monitor
	reviewer *review.Reviewer // nil when no classifier is reachable
	reg      *regulator.Regulator
	closers  []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]() //nolint:errcheck
	}
	d.logger.Sync() //nolint:errcheck
}

func open(withReviewer bool) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, logger: logger}

	ws, err := weights.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open weights store: %w", err)
	}
	d.weights = ws
	d.closers = append(d.closers, ws.Close)
	if _, err := ws.EnsureInitial(weights.Default()); err != nil {
		d.Close()
		return nil, fmt.Errorf("seed weights: %w", err)
	}

	as, err := audit.NewStore(ws.DB())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	rs, err := review.NewStore(ws.DB())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open review store: %w", err)
	}
	d.monitor = pressure.NewMonitor(as, cfg.Pressure, logger)

	if withReviewer {
		model, closeFn, err := classifier(cfg)
		if err != nil {
			// reviews are optional evidence; regulation runs without them
			logger.Warn("peer review disabled", zap.Error(err))
		} else {
			d.closers = append(d.closers, closeFn)
			d.reviewer = review.NewReviewer(rs, as, model, cfg.Review, logger)
		}
	}

	d.reg, err = regulator.New(ws, as, rs, cfg.Regulator, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func classifier(cfg config.Config) (llm.Classifier, func() error, error) {
	if cfg.Classifier == "anthropic" {
		return llm.NewAnthropicClassifier(cfg.APIKey, cfg.Anthropic), func() error { return nil }, nil
	}
	cc, err := codec.NewCodecClient(cfg.CodecAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect codec at %s: %w", cfg.CodecAddr, err)
	}
	return cc, cc.Close, nil
}

// #endregion wiring

// #region tick
// tick runs the evidence producers and then one regulation cycle. Producer
// failures are logged; the cycle still runs on whatever evidence exists.
func (d *deps) tick(ctx context.Context) regulator.Result {
	since := time.Now().Add(-d.cfg.Regulator.MetricsWindow)
	if rep, err := d.monitor.Scan(ctx, since); err != nil {
		d.logger.Warn("pressure scan failed", zap.Error(err))
	} else {
		d.logger.Debug("pressure scan",
			zap.Int("signals", len(rep.Signals)),
			zap.Int("feedback", rep.Feedback),
			zap.Float64("entropy", rep.Entropy))
	}
	if d.reviewer != nil {
		if sum, err := d.reviewer.RunOnce(ctx); err != nil {
			d.logger.Warn("peer review failed", zap.Error(err))
		} else {
			d.logger.Debug("peer review",
				zap.Int("reviewed", sum.Reviewed),
				zap.Int("disagreements", sum.Disagreements))
		}
	}
	return d.reg.Regulate(ctx)
}

// #endregion tick

// #region commands
func runLoop(cmd *cobra.Command, _ []string) error {
	d, err := open(true)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(d.cfg.RegulatorEvery)
		defer t.Stop()
		for {
			d.tick(gctx)
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
	if d.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: d.cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	d.logger.Info("regulator running",
		zap.String("db", d.cfg.DBPath),
		zap.Duration("every", d.cfg.RegulatorEvery))
	return g.Wait()
}

func runOnce(cmd *cobra.Command, _ []string) error {
	d, err := open(true)
	if err != nil {
		return err
	}
	defer d.Close()

	res := d.tick(cmd.Context())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runRollback(cmd *cobra.Command, args []string) error {
	d, err := open(false)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.reg.Rollback(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("rolled back to %s\n", args[0])
	return nil
}

// #endregion commands
