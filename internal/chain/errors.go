package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// classify maps a node or transport error onto the external error taxonomy.
// The original message is kept as the wrapped cause.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsExternalError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", domain.ErrNetworkFailure, op, err)
	}

	var rpcErr rpc.Error
	var dataErr rpc.DataError
	switch {
	case errors.As(err, &dataErr), errors.As(err, &rpcErr):
		return fmt.Errorf("%w: %s: %v", domain.ErrContractCallRejected, op, err)
	case isRejection(err.Error()):
		return fmt.Errorf("%w: %s: %v", domain.ErrContractCallRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrNetworkFailure, op, err)
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"user rejected",
	"denied",
}

func isRejection(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range rejectionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
