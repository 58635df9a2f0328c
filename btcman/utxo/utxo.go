/*
Deterministic selection of UTXOs for spending.
*/
package utxo

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// SortLargestFirst orders by amount descending, ties broken by outpoint.
// The order only depends on the set, so replays select the same inputs.
func SortLargestFirst(utxos []*UTXO) {
	sort.SliceStable(utxos, func(i, j int) bool {
		if utxos[i].Amount != utxos[j].Amount {
			return utxos[i].Amount > utxos[j].Amount
		}
		return utxos[i].Outpoint().Less(utxos[j].Outpoint())
	})
}

// SelectLargestFirst picks inputs largest first until their sum covers
// need(n), where n is the number of inputs picked so far plus the one
// being considered. need usually grows with n because every input adds fee.
func SelectLargestFirst(candidates []*UTXO, need func(n int) int64) ([]*UTXO, int64, error) {
	sorted := make([]*UTXO, len(candidates))
	copy(sorted, candidates)
	SortLargestFirst(sorted)

	var sum int64
	for i, u := range sorted {
		sum += u.Amount
		if sum >= need(i+1) {
			return sorted[:i+1], sum, nil
		}
	}
	return nil, sum, ErrInsufficientFunds
}

// SelectRunes picks outputs holding rune id, largest balance first, until
// amount is covered. It returns the selected outputs and their total balance.
func SelectRunes(candidates []*UTXO, id runestone.RuneId, amount *uint256.Int) ([]*UTXO, *uint256.Int, error) {
	var holding []*UTXO
	for _, u := range candidates {
		if u.HasRunes() && u.Runes.Id == id {
			holding = append(holding, u)
		}
	}
	sort.SliceStable(holding, func(i, j int) bool {
		if c := holding[i].Runes.Amount.Cmp(holding[j].Runes.Amount); c != 0 {
			return c > 0
		}
		return holding[i].Outpoint().Less(holding[j].Outpoint())
	})

	total := new(uint256.Int)
	for i, u := range holding {
		total.Add(total, u.Runes.Amount)
		if !total.Lt(amount) {
			return holding[:i+1], total, nil
		}
	}
	return nil, total, ErrInsufficientFunds
}

func Sum(utxos []*UTXO) int64 {
	var sum int64
	for _, u := range utxos {
		sum += u.Amount
	}
	return sum
}
