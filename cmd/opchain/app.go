package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opchain/internal/chain"
	"opchain/internal/config"
	"opchain/internal/ensemble"
	"opchain/internal/lifecycle"
	"opchain/internal/logging"
	"opchain/internal/metrics"
	"opchain/internal/statstore"
	"opchain/internal/synthetic"
	"opchain/internal/varchange"
	"opchain/pkg/block"
	"opchain/pkg/field"
	"opchain/pkg/geometry"
	"opchain/plugins/builtin"
)

type app struct {
	stdout, stderr io.Writer

	configPath  string
	envFile     string
	logLevel    string
	metricsAddr string
	tracePath   string

	cfg      *config.Config
	logger   *zap.Logger
	registry *block.Registry
	promReg  *prometheus.Registry
	recorder metrics.Recorder

	server    *http.Server
	serveDone chan struct{}
	traceFile *os.File
	tracer    *metrics.JSONTracer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, logger: zap.NewNop(), recorder: metrics.Noop{}}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "opchain",
		Short:         "Chain linear operator blocks and check their adjoints and inverses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to the YAML run configuration")
	pf.StringVar(&a.envFile, "env-file", ".env", "optional dotenv file read before the configuration")
	pf.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&a.tracePath, "trace", "", "write block operation spans as JSON lines to this file")

	root.AddCommand(a.testCommand(), a.calibrateCommand(), a.ensembleCommand(), a.blocksCommand())
	return root
}

// setup loads the environment and configuration and wires logging and metrics.
func (a *app) setup(_ context.Context) error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	a.cfg = cfg
	if a.logger, err = logging.New(cfg.Logging, a.stderr); err != nil {
		return err
	}
	if a.registry, err = builtin.NewRegistry(); err != nil {
		return err
	}
	a.registry.Seal()

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector())
	prom, err := metrics.NewPrometheus(a.promReg)
	if err != nil {
		return err
	}
	recorders := metrics.Multi{prom}
	if a.tracePath != "" {
		if a.traceFile, err = os.Create(a.tracePath); err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		a.tracer = metrics.NewJSONTracer(a.traceFile)
		recorders = append(recorders, a.tracer)
	}
	a.recorder = recorders
	if cfg.Metrics.Addr != "" {
		return a.serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.serveDone = make(chan struct{})
	go func() {
		defer close(a.serveDone)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.server.Shutdown(ctx))
		cancel()
		<-a.serveDone
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Err())
	}
	if a.traceFile != nil {
		errs = append(errs, a.traceFile.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// session is everything a command needs to drive one chain.
type session struct {
	grid   *geometry.Grid
	model  field.Variables
	outer  field.Variables
	store  statstore.Store
	change *varchange.Change
	chain  *chain.Chain
}

func (s *session) Close() error { return s.store.Close() }

func (a *app) openStore(ctx context.Context) (statstore.Store, error) {
	return statstore.Open(ctx, a.cfg.Statistics, statstore.WithLogger(a.logger))
}

func (a *app) newSession(ctx context.Context) (*session, error) {
	grid, err := a.cfg.Grid()
	if err != nil {
		return nil, err
	}
	model, err := a.cfg.ModelVariables()
	if err != nil {
		return nil, err
	}
	outer, err := a.cfg.OuterVariables()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{grid: grid, model: model, outer: outer, store: store, change: varchange.New(grid, outer, a.logger)}
	background, err := synthetic.Background(grid, model, a.cfg.Background)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.change.Forward(background); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.chain, err = chain.Build(a.registry, grid, outer, a.cfg.Blocks, background, background.Clone(),
		chain.WithLogger(a.logger), chain.WithMetrics(a.recorder))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// ensembleSource draws members on the model variables and projects them onto
// the chain's outer variables.
func (a *app) ensembleSource(s *session) lifecycle.EnsembleSource {
	src := ensemble.Source(a.cfg.Ensemble, s.grid, s.model, s.store)
	return func(ctx context.Context) ([]*field.FieldSet, error) {
		members, err := src(ctx)
		if err != nil {
			return nil, err
		}
		for i, m := range members {
			if err := s.change.Forward(m); err != nil {
				return nil, fmt.Errorf("member %d: %w", i, err)
			}
		}
		return members, nil
	}
}

func (a *app) prepare(ctx context.Context, s *session) ([]lifecycle.Decision, error) {
	return lifecycle.New(s.store, a.logger).Prepare(ctx, s.chain, a.ensembleSource(s))
}
