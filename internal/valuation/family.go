package valuation

import (
	"fmt"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// Protocol families with a conforming valuator.
const (
	ProtocolLending   = "lending"
	ProtocolLiquidity = "liquidity"
)

// ForProtocol returns the valuator for a protocol family.
func ForProtocol(protocol string) (Valuator, error) {
	switch protocol {
	case ProtocolLending:
		return LendingValuator{}, nil
	case ProtocolLiquidity:
		return LiquidityValuator{}, nil
	default:
		return nil, fmt.Errorf("no valuator for protocol family %q: %w", protocol, domain.ErrValidation)
	}
}
