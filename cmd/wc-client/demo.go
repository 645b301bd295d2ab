package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/walletconnect/internal/walletsim"
	"gosuda.org/walletconnect/sdk"
	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/bridge"
	"gosuda.org/walletconnect/walletconnect/store"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a local bridge and a simulated wallet and walk through a full session",
	Args:  cobra.NoArgs,
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen bridge: %w", err)
	}
	b := bridge.NewServer(bridge.Config{})
	srv := &http.Server{Handler: b.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("[demo] bridge stopped")
		}
	}()
	defer func() {
		_ = b.Close()
		_ = srv.Close()
	}()
	bridgeURL := "http://" + ln.Addr().String()
	log.Info().Str("bridge", bridgeURL).Msg("[demo] local bridge running")

	wallet := walletsim.New(walletsim.Config{
		Accounts: []string{"0x5A0b54D5dc17e0AadC383d2db43B0a0D3E029c4c"},
		ChainID:  flagChainID,
		Handler:  walletsim.Signer("0x" + fmt.Sprintf("%0130x", 1)),
	})
	defer wallet.Close()

	client, err := sdk.NewClient(
		sdk.WithBridgeURL(bridgeURL),
		sdk.WithChainID(flagChainID),
		sdk.WithStore(store.NewMemoryStore()),
	)
	if err != nil {
		return err
	}
	defer shutdown(client)

	client.OnReadyForPrompt(func(uri string) {
		fmt.Println(renderPairing(uri))
		if err := wallet.Pair(ctx, uri); err != nil {
			log.Error().Err(err).Msg("[demo] wallet failed to pair")
		}
	})
	updated := make(chan *walletconnect.SessionData, 1)
	client.OnSessionUpdated(func(d *walletconnect.SessionData) { updated <- d })

	data, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println(renderSession("Connected", data))

	eth := sdk.NewEthHandler(client, nil, nil)
	sig, err := eth.Sign(ctx, "hello from wc-client")
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	fmt.Println(renderResult("Signature", sig))

	hash, err := eth.SendTransaction(ctx, walletconnect.TransactionData{To: "0x000000000000000000000000000000000000dEaD", Value: "0x1"})
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	fmt.Println(renderResult("Tx hash", hash))

	// Suspend and resume over the same saved session.
	if err := client.Suspend(ctx); err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	if _, err := client.Resume(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	fmt.Println(renderResult("Resumed", client.Session().Descriptor().KeyFingerprint))

	if err := wallet.SendUpdate(ctx, []string{"0x000000000000000000000000000000000000bEEF"}, flagChainID); err != nil {
		return fmt.Errorf("wallet update: %w", err)
	}
	select {
	case d := <-updated:
		fmt.Println(renderSession("Session updated", d))
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := client.CloseSession(ctx, false); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	select {
	case <-wallet.Ended():
		fmt.Println(renderResult("Disconnected", "wallet notified"))
	case <-time.After(5 * time.Second):
		return errors.New("wallet was not notified of the disconnect")
	}
	return nil
}
