package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	amqpadapter "github.com/bft-labs/logship/internal/adapters/amqp"
	"github.com/bft-labs/logship/internal/adapters/fs"
	httpadapter "github.com/bft-labs/logship/internal/adapters/http"
	"github.com/bft-labs/logship/internal/adapters/memqueue"
	"github.com/bft-labs/logship/internal/adapters/netinfo"
	"github.com/bft-labs/logship/internal/app"
	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/internal/shutdown"
	"github.com/bft-labs/logship/pkg/log"
)

const helpBanner = `
 _                 _     _
| | ___   __ _ ___| |__ (_)_ __
| |/ _ \ / _' / __| '_ \| | '_ \
| | (_) | (_| \__ \ | | | | |_) |
|_|\___/ \__, |___/_| |_|_| .__/
         |___/            |_|
`

const helpDescription = `
Tail DNS server logs, queue every line and index the parsed records.

Highlights:
  - Watches directories and follows every matching file line by line.
  - Remembers per-file offsets, so a restart resumes where it stopped.
  - Ships lines through RabbitMQ (or an in-process queue) to a pool of workers.
  - Workers enrich records with resolver host/IP/MAC and index them.
`

var longHelp = strings.TrimSpace(helpBanner) + "\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  logship --dir /var/log/dns --amqp-url amqp://guest:guest@mq:5672/
  logship --queue memory --index-url http://es:9200 --dir ./logs
  logship dirs add /var/log/dns
  logship offsets list
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	zl := log.NewZerolog(os.Stderr)
	if err := newRootCmd(zl).Execute(); err != nil {
		zl.Error().Err(err).Msg("logship")
		os.Exit(1)
	}
}

// options are the flag values that are not part of cliconfig.Config.
type options struct {
	cfgPath string
	noMenu  bool
	debug   bool
}

func newRootCmd(zl zerolog.Logger) *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var opts options

	root := &cobra.Command{
		Use:           "logship",
		Short:         "Tail DNS server logs into a queue and index the parsed records",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, opts.cfgPath); err != nil {
				return err
			}
			if opts.debug {
				cfg.LogLevel = "debug"
			}
			level := applyLogLevel(cfg.LogLevel)

			// Log configuration (masking API key)
			logCfg := cfg
			if len(logCfg.IndexAPIKey) > 0 {
				logCfg.IndexAPIKey = "*****"
			}
			logCfg.AMQPURL = maskURL(logCfg.AMQPURL)
			zl.Info().Interface("config", logCfg).Msg("configuration")

			return run(cmd.Context(), cfg, opts, zl, level, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgPath, "config", "", "path to config file (default: $HOME/.logship/config.toml)")
	pf.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "offset store file")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	pf.BoolVar(&opts.debug, "debug", false, "shorthand for --log-level debug")

	f := root.Flags()
	f.StringSliceVar(&cfg.Directories, "dir", cfg.Directories, "directory to watch (repeatable)")
	f.StringVar(&cfg.FilePattern, "pattern", cfg.FilePattern, "glob that file names must match")
	f.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "lines per published batch")
	f.IntVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "seconds before a stuck shutdown is forced (more than 5)")

	f.StringVar(&cfg.Queue, "queue", cfg.Queue, "queue backend: amqp or memory (memory: lines queued but not yet indexed are lost if the process dies)")
	f.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "RabbitMQ connection URL")
	f.StringVar(&cfg.QueueName, "queue-name", cfg.QueueName, "RabbitMQ queue name")
	f.IntVar(&cfg.Prefetch, "prefetch", cfg.Prefetch, "unacknowledged messages per consumer")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "consumer workers")

	f.StringVar(&cfg.IndexURL, "index-url", cfg.IndexURL, "search cluster URL; empty disables consuming")
	f.StringVar(&cfg.IndexName, "index-name", cfg.IndexName, "target index")
	f.StringVar(&cfg.IndexAPIKey, "index-api-key", cfg.IndexAPIKey, "API key for the search cluster")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout for index requests")

	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (e.g. :9101)")
	f.BoolVar(&opts.noMenu, "no-menu", false, "do not read menu commands from stdin; stop on SIGINT/SIGTERM only")

	root.AddCommand(newDirsCmd(&cfg, &opts.cfgPath), newOffsetsCmd(&cfg, &opts.cfgPath))
	return root
}

// loadConfig applies the config file, then LOGSHIP_* variables, then
// validates. Flags set on the command line win over both.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

// applyLogLevel sets the global zerolog level and returns it.
func applyLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// debugToggle flips the global level between debug and base.
func debugToggle(base zerolog.Level) func() bool {
	if base == zerolog.DebugLevel {
		base = zerolog.InfoLevel
	}
	return func() bool {
		if zerolog.GlobalLevel() == zerolog.DebugLevel {
			zerolog.SetGlobalLevel(base)
			return false
		}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return true
	}
}

func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "*****" + raw[at:]
}

// queue bundles the configured queue backend.
type queue struct {
	producer ports.Producer
	consumer ports.Consumer
	close    func() error
}

func openQueue(cfg cliconfig.Config, logger log.Logger) (queue, error) {
	if cfg.Queue == cliconfig.QueueMemory {
		q := memqueue.New(memqueue.DefaultCapacity)
		return queue{producer: q, consumer: q, close: q.Close}, nil
	}
	c, err := amqpadapter.Dial(amqpadapter.Config{
		URL:      cfg.AMQPURL,
		Queue:    cfg.QueueName,
		Prefetch: cfg.Prefetch,
	}, logger)
	if err != nil {
		return queue{}, err
	}
	return queue{producer: c, consumer: c, close: c.Close}, nil
}

func run(ctx context.Context, cfg cliconfig.Config, opts options, zl zerolog.Logger, level zerolog.Level, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.NewZerologAdapterWithLogger(zl)

	q, err := openQueue(cfg, logger.With(log.String("component", "queue")))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer func() {
		if err := q.close(); err != nil {
			logger.Warn("close queue", log.Err(err))
		}
	}()

	m := metrics.New()

	var indexer *httpadapter.Indexer
	deps := app.Deps{
		Store:      fs.NewOffsetStore(cfg.StateFile, logger.With(log.String("component", "store"))),
		Producer:   q.producer,
		Resolver:   netinfo.New(netinfo.DefaultCacheSize, netinfo.DefaultCacheTTL, logger.With(log.String("component", "netinfo"))),
		Terminator: shutdown.New(shutdown.WithOutput(out), shutdown.WithLogger(logger)),
		Metrics:    m,
		Logger:     logger,
	}
	if cfg.IndexURL != "" {
		indexer = httpadapter.NewIndexer(&http.Client{Timeout: cfg.HTTPTimeout}, httpadapter.IndexerConfig{
			URL:    cfg.IndexURL,
			Index:  cfg.IndexName,
			APIKey: cfg.IndexAPIKey,
		}, logger.With(log.String("component", "indexer")))
		deps.Consumer = q.consumer
		deps.Indexer = indexer
	}
	if err := deps.Terminator.SetMaxTimeout(cfg.ShutdownTimeout); err != nil {
		return err
	}

	sup, err := app.New(app.Config{
		StateFile:   cfg.StateFile,
		Directories: cfg.Directories,
		FilePattern: cfg.FilePattern,
		ChunkSize:   cfg.ChunkSize,
		Pool:        app.PoolConfig{Workers: cfg.Workers},
	}, deps)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server", log.Err(err))
			}
		}()
	}
	if indexer != nil {
		go func() {
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			defer pingCancel()
			if err := indexer.Ping(pingCtx); err != nil {
				logger.Warn("index cluster not reachable, records will be retried", log.Err(err))
			}
		}()
	}

	menuDone := make(chan struct{})
	if !opts.noMenu {
		mn := newMenu(in, out, sup, debugToggle(level))
		go func() {
			if mn.Run(ctx) {
				close(menuDone)
			}
		}()
	}

	select {
	case <-sigCh:
		zl.Info().Msg("received signal, stopping...")
	case <-menuDone:
	case <-ctx.Done():
	}

	fmt.Fprintln(out, "Exiting from program...")
	if err := sup.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Fprintln(out, "Good bye.")
	return nil
}
