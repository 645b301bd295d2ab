package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/walletconnect/walletconnect/bridge"
)

var rootCmd = &cobra.Command{
	Use:   "wc-bridge",
	Short: "WalletConnect v1 bridge: routes encrypted envelopes between dapps and wallets by topic",
	RunE:  runBridge,
}

var (
	flagAddr          string
	flagQueueTTL      time.Duration
	flagMaxQueue      int
	flagWriteTimeout  time.Duration
	flagPruneInterval time.Duration
	flagPublishRate   int
	flagPublishBurst  int
	flagLogLevel      string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", envOrDefault("BRIDGE_ADDR", ":5001"), "HTTP listen address (env: BRIDGE_ADDR)")
	flags.DurationVar(&flagQueueTTL, "queue-ttl", 24*time.Hour, "how long a message waits for its subscriber")
	flags.IntVar(&flagMaxQueue, "max-queue", 64, "queued messages kept per topic")
	flags.DurationVar(&flagWriteTimeout, "write-timeout", 5*time.Second, "per-message websocket write timeout")
	flags.DurationVar(&flagPruneInterval, "prune-interval", time.Minute, "how often expired messages are dropped")
	flags.IntVar(&flagPublishRate, "publish-rate", 0, "envelopes per second one peer may publish (0=unlimited)")
	flags.IntVar(&flagPublishBurst, "publish-burst", 0, "publish burst per peer (defaults to --publish-rate)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute bridge command")
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.NewServer(bridge.Config{
		QueueTTL:         flagQueueTTL,
		MaxQueuePerTopic: flagMaxQueue,
		WriteTimeout:     flagWriteTimeout,
		PruneInterval:    flagPruneInterval,
		PublishRate:      flagPublishRate,
		PublishBurst:     flagPublishBurst,
	})

	srv := &http.Server{
		Addr:              flagAddr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", flagAddr).Msg("[Bridge] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("[Bridge] shutting down...")
	case err := <-errCh:
		if err != nil {
			_ = b.Close()
			return fmt.Errorf("serve: %w", err)
		}
	}

	// Peers get a going-away close before the listener stops.
	if err := b.Close(); err != nil {
		log.Warn().Err(err).Msg("[Bridge] close error")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("[Bridge] http server shutdown error")
	}

	stats := b.Stats()
	log.Info().Int("peers", stats.Peers).Int("queued", stats.Queued).Int("throttled", stats.Throttled).Msg("[Bridge] shutdown complete")
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
