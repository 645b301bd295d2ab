package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/walletconnect/sdk"
	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
	"gosuda.org/walletconnect/walletconnect/store"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Pair with a wallet (or resume the saved session) and stay connected until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runConnect,
}

var signCmd = &cobra.Command{
	Use:   "sign MESSAGE",
	Short: "Ask the wallet for a personal_sign signature",
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

var (
	flagTxTo    string
	flagTxValue string
	flagTxData  string
	flagTxGas   string
	flagTxSign  bool
)

var sendTxCmd = &cobra.Command{
	Use:   "send-tx",
	Short: "Ask the wallet to send (or only sign) a transaction",
	Args:  cobra.NoArgs,
	RunE:  runSendTx,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved session without connecting",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "End the saved session and tell the wallet",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

func init() {
	flags := sendTxCmd.Flags()
	flags.StringVar(&flagTxTo, "to", "", "recipient address")
	flags.StringVar(&flagTxValue, "value", "", "value in wei as a hex quantity")
	flags.StringVar(&flagTxData, "data", "", "call data as hex")
	flags.StringVar(&flagTxGas, "gas", "", "gas limit as a hex quantity")
	flags.BoolVar(&flagTxSign, "sign-only", false, "sign without broadcasting")
	_ = sendTxCmd.MarkFlagRequired("to")
}

// connectClient creates a client and makes sure it holds a connected session.
func connectClient(ctx context.Context, cmd *cobra.Command) (*sdk.Client, *walletconnect.SessionData, error) {
	client, err := newClient(cmd)
	if err != nil {
		return nil, nil, err
	}
	promptPairing(ctx, client)

	data, err := client.Connect(ctx)
	if err != nil {
		shutdown(client)
		return nil, nil, err
	}
	return client, data, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()
	client, data, err := connectClient(connectCtx, cmd)
	if err != nil {
		return err
	}
	defer shutdown(client)
	fmt.Println(renderSession("Connected", data))

	client.OnSessionUpdated(func(d *walletconnect.SessionData) {
		fmt.Println(renderSession("Session updated", d))
	})
	client.OnTransportClosed(func(err error) {
		log.Warn().Err(err).Msg("[wc-client] bridge connection lost, resuming")
	})
	client.OnConnected(func(d *walletconnect.SessionData) {
		fmt.Println(renderSession("Connected", d))
	})
	client.OnDisconnected(func(ev walletconnect.Event) {
		if ev.PeerInitiated {
			log.Info().Msg("[wc-client] wallet ended the session")
		}
	})

	log.Info().Msg("[wc-client] press Ctrl+C to suspend; the session is saved and resumed next time")
	<-ctx.Done()
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client, _, err := connectClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer shutdown(client)

	sig, err := sdk.NewEthHandler(client, nil, nil).Sign(ctx, args[0])
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	fmt.Println(renderResult("Signature", sig))
	return nil
}

func runSendTx(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client, data, err := connectClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer shutdown(client)

	tx := walletconnect.TransactionData{
		From:  data.DefaultAccount(),
		To:    flagTxTo,
		Value: flagTxValue,
		Data:  flagTxData,
		Gas:   flagTxGas,
	}
	if flagTxSign {
		signed, err := client.Session().SignTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}
		fmt.Println(renderResult("Signed tx", signed))
		return nil
	}

	hash, err := sdk.NewEthHandler(client, nil, nil).SendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	fmt.Println(renderResult("Tx hash", hash))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer shutdown(client)

	st := client.Config().Store
	saved, err := st.Load(cmd.Context())
	switch {
	case errors.Is(err, wcproto.ErrNoSavedSession):
		saved = nil
	case err != nil:
		return fmt.Errorf("load saved session: %w", err)
	}
	fmt.Println(renderSaved(saved, storeLocation(st)))
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer shutdown(client)

	st := client.Config().Store
	saved, err := st.Load(ctx)
	if errors.Is(err, wcproto.ErrNoSavedSession) || (err == nil && !saved.Connected) {
		fmt.Println(warnStyle.Render("No session to disconnect"))
		return st.Clear(ctx)
	}
	if err != nil {
		return fmt.Errorf("load saved session: %w", err)
	}

	// The wallet is only told through a live session, so resume it first.
	if _, err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("[wc-client] cannot reach the bridge, clearing the session locally")
		return st.Clear(ctx)
	}
	if _, err := client.CloseSession(ctx, false); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	fmt.Println(renderResult("Disconnected", strings.Join(saved.Accounts, ", ")))
	return nil
}

func storeLocation(st walletconnect.SessionStore) string {
	if fs, ok := st.(*store.FileStore); ok {
		return fs.Path()
	}
	return fmt.Sprintf("%T", st)
}
