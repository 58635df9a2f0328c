package syncer

import (
	"time"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/hub"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

type Config struct {
	OwnChain common.ChainId
	Hub      hub.Hub
	StateDB  *state.StateDB
	Ledger   Ledger

	Interval   time.Duration
	BatchLimit int
}
