package common

import (
	"errors"
	"strings"

	aptos "github.com/aptos-labs/aptos-go-sdk"
	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrInvalidReceiver = errors.New("invalid receiver")

// ValidateReceiver checks the receiver against the address format of the chain family.
func ValidateReceiver(family ChainFamily, receiver string, params *chaincfg.Params) error {
	if strings.TrimSpace(receiver) == "" || receiver != strings.TrimSpace(receiver) {
		return ErrInvalidReceiver
	}

	switch family {
	case FamilyBitcoin:
		if !IsValidBtcAddress(receiver, params) {
			return ErrInvalidReceiver
		}
	case FamilyEvm:
		if !ethcommon.IsHexAddress(receiver) {
			return ErrInvalidReceiver
		}
	case FamilyAptos:
		var addr aptos.AccountAddress
		if err := addr.ParseStringRelaxed(receiver); err != nil {
			return ErrInvalidReceiver
		}
	case FamilyOther, "":
		if len(receiver) > 128 {
			return ErrInvalidReceiver
		}
	default:
		return ErrInvalidReceiver
	}

	return nil
}
