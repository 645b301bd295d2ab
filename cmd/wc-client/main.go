package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/walletconnect/sdk"
	"gosuda.org/walletconnect/walletconnect"
)

var rootCmd = &cobra.Command{
	Use:           "wc-client",
	Short:         "WalletConnect v1 dapp client: pair with a wallet, sign and send transactions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var (
	flagConfig   string
	flagBridge   string
	flagChainID  int
	flagStoreDir string
	flagLogLevel string
	flagOpen     bool
	flagTimeout  time.Duration
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", os.Getenv("WC_CONFIG"), "YAML config file (env: WC_CONFIG)")
	flags.StringVar(&flagBridge, "bridge", envOrDefault("WC_BRIDGE_URL", walletconnect.DefaultBridgeURL), "bridge URL (env: WC_BRIDGE_URL)")
	flags.IntVar(&flagChainID, "chain-id", walletconnect.DefaultChainID, "chain id requested from the wallet")
	flags.StringVar(&flagStoreDir, "store-dir", defaultStoreDir(), "directory holding the saved session")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&flagOpen, "open", false, "open the pairing URI with the system URL handler")
	flags.DurationVar(&flagTimeout, "timeout", 5*time.Minute, "how long to wait for the wallet")

	rootCmd.AddCommand(connectCmd, signCmd, sendTxCmd, statusCmd, disconnectCmd, demoCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

// newClient builds the orchestrator from --config, with explicit flags on top.
func newClient(cmd *cobra.Command) (*sdk.Client, error) {
	fileCfg := &sdk.FileConfig{Store: sdk.StoreConfig{Backend: sdk.StoreFile, Dir: flagStoreDir}}
	if flagConfig != "" {
		cfg, err := sdk.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		fileCfg = cfg
	}

	opts, err := fileCfg.Options()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	flags := cmd.Flags()
	if flagConfig == "" || flags.Changed("bridge") {
		opts = append(opts, sdk.WithBridgeURL(flagBridge))
	}
	if flagConfig == "" || flags.Changed("chain-id") {
		opts = append(opts, sdk.WithChainID(flagChainID))
	}
	if flagOpen {
		opts = append(opts, sdk.WithURLOpener(systemOpener{}))
	}
	return sdk.NewClient(opts...)
}

// promptPairing prints the pairing URI whenever the client waits for a wallet.
func promptPairing(ctx context.Context, client *sdk.Client) {
	client.OnReadyForPrompt(func(uri string) {
		fmt.Println(renderPairing(uri))
		if flagOpen {
			if err := client.OpenWallet(ctx); err != nil {
				log.Warn().Err(err).Msg("[wc-client] cannot open wallet")
			}
		}
	})
}

// commandContext is cancelled on SIGINT/SIGTERM and after --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, flagTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func shutdown(client *sdk.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("[wc-client] shutdown error")
	}
}

// systemOpener hands URIs to the desktop's default handler.
type systemOpener struct{}

func (systemOpener) OpenURL(ctx context.Context, uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", uri)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", uri)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", uri)
	}
	return cmd.Start()
}

func defaultStoreDir() string {
	if dir := os.Getenv("WC_STORE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return ".wc-client"
	}
	return filepath.Join(base, "wc-client")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
