package assembler

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Version 2 so relative lock-times and replacement rules apply.
const TxVersion = 2

// Signals replaceability (BIP125) on every input.
const RBFSequence = wire.MaxTxInSequenceNum - 2

// Decode Address decodes a string address to btcutil.Address of the network.
func DecodeAddress(addressStr string, network *chaincfg.Params) (btcutil.Address, error) {
	address, err := btcutil.DecodeAddress(addressStr, network)
	if err != nil {
		return nil, err
	}
	if !address.IsForNet(network) {
		return nil, ErrWrongNetwork
	}
	return address, nil
}

// PayToAddress returns the locking script paying to addressStr.
func PayToAddress(addressStr string, network *chaincfg.Params) ([]byte, error) {
	address, err := DecodeAddress(addressStr, network)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(address)
}

// CustodyAddress is the P2WPKH address of a compressed public key.
func CustodyAddress(pubKey []byte, network *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), network)
}
