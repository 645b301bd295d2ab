package sdk

import (
	"context"
	"fmt"

	"gosuda.org/walletconnect/walletconnect"
)

// RPCClient reads chain state for the connected account. The session never
// uses it; EthHandler only carries it next to the account and chain it serves.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account string) (string, error)
	GasPrice(ctx context.Context) (string, error)
}

// TransactionCodec turns an application transaction into the params of a
// wallet request.
type TransactionCodec interface {
	EncodeTransaction(tx any) (any, error)
}

// EthHandler is the convenience surface for signing and sending through the
// client's current session.
type EthHandler struct {
	client *Client
	codec  TransactionCodec
	rpc    RPCClient
}

// NewEthHandler binds a handler to client. codec and rpc may be nil.
func NewEthHandler(client *Client, codec TransactionCodec, rpc RPCClient) *EthHandler {
	return &EthHandler{client: client, codec: codec, rpc: rpc}
}

func (h *EthHandler) session() (*walletconnect.Session, error) {
	s := h.client.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// DefaultAccount is the first approved account, or "" without a session.
func (h *EthHandler) DefaultAccount() string {
	s, err := h.session()
	if err != nil {
		return ""
	}
	return s.Data().DefaultAccount()
}

// ChainID is the session's chain, or the configured one without a session.
func (h *EthHandler) ChainID() int {
	s, err := h.session()
	if err != nil {
		return h.client.config.ChainID
	}
	return s.ChainID()
}

// RPC returns the chain reader, which may be nil.
func (h *EthHandler) RPC() RPCClient {
	return h.rpc
}

// Sign asks the wallet to personal_sign message with the default account.
func (h *EthHandler) Sign(ctx context.Context, message string) (string, error) {
	s, err := h.session()
	if err != nil {
		return "", err
	}
	return s.SignMessage(ctx, message, s.Data().DefaultAccount())
}

// SendTransaction sends tx, filling From with the default account when empty.
func (h *EthHandler) SendTransaction(ctx context.Context, tx walletconnect.TransactionData) (string, error) {
	s, err := h.session()
	if err != nil {
		return "", err
	}
	if tx.From == "" {
		tx.From = s.Data().DefaultAccount()
	}
	return s.SendTransaction(ctx, tx)
}

// SendEncodedTransaction encodes tx with the codec and sends it as method.
func (h *EthHandler) SendEncodedTransaction(ctx context.Context, method string, tx any) (string, error) {
	if h.codec == nil {
		return "", ErrNoTransactionCodec
	}
	s, err := h.session()
	if err != nil {
		return "", err
	}
	params, err := h.codec.EncodeTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	var out string
	if err := s.Request(ctx, method, params, &out); err != nil {
		return "", err
	}
	return out, nil
}
