package custody

import (
	"time"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

type Config struct {
	OwnChain common.ChainId
	Network  string // mainnet, testnet, regtest, signet

	// Version recorded in the Upgrade event at every boot
	Version uint32

	// Smallest native amount, in sats, a release may ask for
	MinReleaseAmount uint64

	// Bound on outbound requests not confirmed yet
	MaxPendingRequests int

	// Confirmations for a deposit to count and for a release to be final
	Confirmations uint32

	// Age after which an unconfirmed release tx is considered stuck
	StuckTimeout time.Duration

	// Age after which a pending inbound request without balance is dropped
	InboundTimeout time.Duration

	FrequencyToSubmit  time.Duration
	FrequencyToBumpFee time.Duration
	FrequencyToConfirm time.Duration
	FrequencyToReport  time.Duration

	// Collaborator calls made by periodic tasks
	RetryAttempts int
	RetryBackoff  time.Duration

	// Clock, time.Now when nil
	Now func() time.Time
}

func DefaultConfig(ownChain common.ChainId, network string) *Config {
	return &Config{
		OwnChain:           ownChain,
		Network:            network,
		Version:            1,
		MinReleaseAmount:   10_000,
		MaxPendingRequests: 100,
		Confirmations:      6,
		StuckTimeout:       30 * time.Minute,
		InboundTimeout:     24 * time.Hour,
		FrequencyToSubmit:  10 * time.Second,
		FrequencyToBumpFee: 60 * time.Second,
		FrequencyToConfirm: 30 * time.Second,
		FrequencyToReport:  30 * time.Second,
		RetryAttempts:      3,
		RetryBackoff:       2 * time.Second,
	}
}

func (cfg *Config) now() time.Time {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now()
}
