package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/boundary"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/codec"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/config"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/critic"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/engine"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/logging"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/memory"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	configPath string
	threadID   string
)

// #region main
func main() {
	root := &cobra.Command{
		Use:   "controller",
		Short: "Route messages through the cognitive control pipeline",
		Long: `Reads one message per line from stdin and prints the engagement mode the
router selected, the topic it belongs to and, for ACT, how the loop ended.

Examples:
  controller                          # defaults, codec at localhost:50051
  controller --config cogctl.yaml     # settings from a file
  controller --thread support-42      # continue an existing thread`,
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.Flags().StringVarP(&threadID, "thread", "t", "", "thread id (random when empty)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region run
func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := weights.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open weights store: %w", err)
	}
	defer ws.Close()
	if _, err := ws.EnsureInitial(weights.Default()); err != nil {
		return fmt.Errorf("seed weights: %w", err)
	}

	as, err := audit.NewStore(ws.DB())
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	if err := logging.Migrate(ws.DB()); err != nil {
		return fmt.Errorf("migrate provenance: %w", err)
	}
	bs, err := boundary.NewStore(ws.DB(), cfg.BoundaryTTL)
	if err != nil {
		return fmt.Errorf("open boundary store: %w", err)
	}
	if n, err := bs.Purge(); err != nil {
		logger.Warn("boundary purge failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("cleared idle boundary state", zap.Int64("threads", n))
	}

	cc, err := codec.NewCodecClient(cfg.CodecAddr)
	if err != nil {
		return fmt.Errorf("connect codec at %s: %w", cfg.CodecAddr, err)
	}
	defer cc.Close()

	model := classifier(cfg, cc)
	mem := memory.NewProvider(cc, cfg.Memory, logger)
	collector, err := signals.NewCollector(mem, cfg.Signals, logger)
	if err != nil {
		return err
	}
	defer collector.Close()

	rt, err := router.New(model, cfg.Router, logger)
	if err != nil {
		return err
	}
	loop, err := act.NewLoop(act.Deps{
		Planner:  engine.NewCodecPlanner(cc),
		Executor: engine.NewCodecExecutor(cc).WithWebSearch(cfg.WebSearch),
		Registry: act.DefaultRegistry(),
		Critic:   critic.NewModelCritic(model, cfg.Critic, logger),
		Recorder: as,
		Ledger:   as,
	}, cfg.Act, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Deps{
		Weights:   weights.NewSnapshotter(ws, 5*time.Second, logger),
		Collector: collector,
		Memory:    mem,
		Tracker:   boundary.NewTracker(bs, logger),
		Router:    rt,
		Loop:      loop,
		Audit:     as,
	}, cfg.Engine, logger)
	if err != nil {
		return err
	}

	srv := serveMetrics(cfg.MetricsAddr, logger)
	defer func() {
		if srv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	if threadID == "" {
		threadID = uuid.NewString()
	}
	fmt.Println("Cognitive control ready.")
	fmt.Printf("  DB: %s | Codec: %s | Thread: %s\n", cfg.DBPath, cfg.CodecAddr, threadID)
	fmt.Println("Type a message (or 'quit' to exit):")

	return repl(ctx, eng)
}

// repl feeds stdin lines to the engine until EOF, quit or a signal.
func repl(ctx context.Context, eng *engine.Engine) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	turn := 0
	for {
		fmt.Print("> ")
		var text string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text = line
		}
		if t := strings.TrimSpace(text); t == "quit" || t == "exit" {
			return nil
		}

		turn++
		resp := eng.Handle(ctx, engine.Message{
			ThreadID:   threadID,
			ExchangeID: fmt.Sprintf("turn-%d", turn),
			Text:       text,
		})
		printResponse(turn, resp)
	}
}

// #endregion run

// #region helpers
func classifier(cfg config.Config, cc *codec.CodecClient) llm.Classifier {
	if cfg.Classifier == "anthropic" {
		return llm.NewAnthropicClassifier(cfg.APIKey, cfg.Anthropic)
	}
	return cc
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	return srv
}

func printResponse(turn int, resp engine.Response) {
	fmt.Printf("[turn-%d] mode=%s confidence=%.3f topic=%s", turn, resp.Mode, resp.Confidence, resp.Topic)
	if resp.Boundary {
		fmt.Print(" (new topic)")
	}
	fmt.Println()
	if resp.Act != nil {
		fmt.Printf("  act: %s after %d iteration(s), fatigue %.2f\n",
			resp.Act.Reason, len(resp.Act.History), resp.Act.Fatigue)
		if c := resp.Act.Confirmation; c != nil {
			fmt.Printf("  confirm %s? %s\n", c.Action.Type, c.Issue)
		}
	}
	if resp.Reason != "" {
		fmt.Printf("  reason: %s\n", resp.Reason)
	}
}

// #endregion helpers
