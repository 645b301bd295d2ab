package walletconnect

import (
	"context"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// TransactionData is an Ethereum transaction as wallets expect it in
// eth_sendTransaction and eth_signTransaction. Quantities are hex strings.
type TransactionData struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Data     string `json:"data,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

func (s *Session) requestString(ctx context.Context, method string, params any) (string, error) {
	var out string
	if err := s.Request(ctx, method, params, &out); err != nil {
		return "", err
	}
	return out, nil
}

// SignMessage asks the wallet for a personal_sign signature over message.
func (s *Session) SignMessage(ctx context.Context, message, address string) (string, error) {
	return s.requestString(ctx, wcproto.MethodPersonalSign, []string{message, address})
}

// EthSign asks for a raw eth_sign signature. Parameter order differs from personal_sign.
func (s *Session) EthSign(ctx context.Context, address, message string) (string, error) {
	return s.requestString(ctx, wcproto.MethodEthSign, []string{address, message})
}

// SignTypedData asks for an EIP-712 signature; typedData is the JSON document.
func (s *Session) SignTypedData(ctx context.Context, address, typedData string) (string, error) {
	return s.requestString(ctx, wcproto.MethodSignTypedData, []string{address, typedData})
}

// SendTransaction asks the wallet to sign and broadcast tx. It returns the hash.
func (s *Session) SendTransaction(ctx context.Context, tx TransactionData) (string, error) {
	return s.requestString(ctx, wcproto.MethodSendTransaction, []TransactionData{tx})
}

// SignTransaction asks the wallet to sign tx without broadcasting it.
func (s *Session) SignTransaction(ctx context.Context, tx TransactionData) (string, error) {
	return s.requestString(ctx, wcproto.MethodSignTransaction, []TransactionData{tx})
}

// SendRawTransaction submits a signed transaction through the wallet.
func (s *Session) SendRawTransaction(ctx context.Context, raw string) (string, error) {
	return s.requestString(ctx, wcproto.MethodSendRawTransaction, []string{raw})
}
