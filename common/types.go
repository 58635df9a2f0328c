package common

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

type ChainId = string
type TokenId = string

// Receiver of the main custody address, where change and confirmed funds live.
const MainReceiver = "main"

type ChainType string

const (
	SettlementChain ChainType = "settlement"
	ExecutionChain  ChainType = "execution"
)

type ChainState string

const (
	ChainActive      ChainState = "active"
	ChainDeactivated ChainState = "deactivated"
)

// ChainFamily selects how receiver addresses on a chain are validated.
type ChainFamily string

const (
	FamilyBitcoin ChainFamily = "bitcoin"
	FamilyEvm     ChainFamily = "evm"
	FamilyAptos   ChainFamily = "aptos"
	FamilyOther   ChainFamily = "other"
)

type Chain struct {
	ChainId         ChainId     `json:"chain_id"`
	ChainType       ChainType   `json:"chain_type"`
	ChainState      ChainState  `json:"chain_state"`
	Family          ChainFamily `json:"family"`
	ContractAddress string      `json:"contract_address,omitempty"`
	FeeToken        TokenId     `json:"fee_token,omitempty"`
}

type Token struct {
	TokenId    TokenId           `json:"token_id"`
	Name       string            `json:"name"`
	Symbol     string            `json:"symbol"`
	Decimals   uint8             `json:"decimals"`
	IssueChain ChainId           `json:"issue_chain"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

const MetadataRuneId = "rune_id"

func NativeTokenId(chain ChainId) TokenId {
	return chain + "-native-BTC"
}

type TicketType string

const (
	TicketNormal   TicketType = "normal"
	TicketResubmit TicketType = "resubmit"
)

type TicketAction string

const (
	ActionTransfer TicketAction = "transfer"
	ActionRedeem   TicketAction = "redeem"
)

// Ticket is an asset-move instruction routed by the hub.
type Ticket struct {
	TicketId   string       `json:"ticket_id"`
	TicketType TicketType   `json:"ticket_type"`
	TicketTime uint64       `json:"ticket_time"`
	SrcChain   ChainId      `json:"src_chain"`
	DstChain   ChainId      `json:"dst_chain"`
	Action     TicketAction `json:"action"`
	Token      TokenId      `json:"token"`
	Amount     string       `json:"amount"`
	Sender     string       `json:"sender,omitempty"`
	Receiver   string       `json:"receiver"`
	Memo       string       `json:"memo,omitempty"`
}

// Destination identifies the logical owner of a custody address.
type Destination struct {
	TargetChainId ChainId `json:"target_chain_id"`
	Receiver      string  `json:"receiver"`
	Token         TokenId `json:"token,omitempty"`
}

func MainDestination(chain ChainId) Destination {
	return Destination{TargetChainId: chain, Receiver: MainReceiver}
}

func (d Destination) String() string {
	if d.Token == "" {
		return fmt.Sprintf("%s/%s", d.TargetChainId, d.Receiver)
	}
	return fmt.Sprintf("%s/%s/%s", d.TargetChainId, d.Receiver, d.Token)
}

// KeyPath returns four non-hardened derivation indices taken from the
// keccak256 hash of the destination.
func (d Destination) KeyPath() []uint32 {
	h := crypto.Keccak256([]byte(d.TargetChainId), []byte{0}, []byte(d.Receiver), []byte{0}, []byte(d.Token))
	path := make([]uint32, 4)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(h[i*4:]) & 0x7fffffff
	}
	return path
}
