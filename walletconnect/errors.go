package walletconnect

import (
	"errors"
	"fmt"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// Error classes. Every error returned by this package wraps exactly one of them.
var (
	ErrTransport        = errors.New("transport error")
	ErrProtocol         = errors.New("protocol error")
	ErrTimeout          = errors.New("request timed out")
	ErrState            = errors.New("invalid state")
	ErrExhaustedRetries = errors.New("connect retries exhausted")
)

var (
	ErrTransportClosed   = fmt.Errorf("%w: transport closed", ErrTransport)
	ErrNotConnected      = fmt.Errorf("%w: session not connected", ErrState)
	ErrConnectInProgress = fmt.Errorf("%w: connect already in progress", ErrState)
	ErrDuplicateRequest  = fmt.Errorf("%w: request id already pending", ErrState)
	ErrPeerRejected      = fmt.Errorf("%w: session rejected by wallet", ErrProtocol)
	ErrHandshakeMismatch = fmt.Errorf("%w: handshake id mismatch", ErrProtocol)
	ErrNoAccounts        = fmt.Errorf("%w: session has no accounts", ErrProtocol)
	ErrMalformedMessage  = fmt.Errorf("%w: malformed message", ErrProtocol)

	// ErrSessionClosed rejects requests still pending when a session goes away.
	ErrSessionClosed = errors.New("session closed")
)

// RPCError is an error payload returned by the wallet for a request.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

func newRPCError(p *wcproto.RPCErrorPayload) *RPCError {
	return &RPCError{Code: p.Code, Message: p.Message}
}

// ExhaustedRetriesError is returned once every connect attempt failed.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("failed to request session connection after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// IsRetryable reports whether a connect failure belongs to the class the
// orchestrator retries: transport failures only.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrExhaustedRetries) {
		return false
	}
	return errors.Is(err, ErrTransport)
}
