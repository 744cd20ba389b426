package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/vitos/token_sniper/internal/domain"
)

// revertMarkers are node messages that will not change on retry against another endpoint.
var revertMarkers = []string{
	"execution reverted",
	"always failing transaction",
	"gas required exceeds allowance",
	"insufficient funds",
	"invalid opcode",
	"out of gas",
	"transaction underpriced",
	"exceeds block gas limit",
}

// classify maps an RPC or transport error onto the engine's two failure kinds.
func classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, m := range revertMarkers {
		if strings.Contains(msg, m) {
			return domain.KindRevert
		}
	}
	return domain.KindTransient
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChainError
	if errors.As(err, &ce) {
		return err
	}
	return &domain.ChainError{Op: op, Kind: classify(err), Err: err}
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
