package types

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned by every broker operation while the gateway
// circuit breaker is open. Callers treat it as a normal skip outcome.
var ErrCircuitOpen = errors.New("broker circuit open")

// BrokerError carries the broker's own failure codes.
type BrokerError struct {
	RtCode  string
	MsgCode string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error rt=%s msg_cd=%s: %s", e.RtCode, e.MsgCode, e.Message)
}

// IsBrokerError reports whether err wraps a BrokerError.
func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}
