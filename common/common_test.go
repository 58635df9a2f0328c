package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReceiver(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	tests := []struct {
		family   ChainFamily
		receiver string
		ok       bool
	}{
		{FamilyBitcoin, "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080", true},
		{FamilyBitcoin, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", false},
		{FamilyBitcoin, "not-an-address", false},
		{FamilyEvm, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{FamilyEvm, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA", false},
		{FamilyAptos, "0x1", true},
		{FamilyAptos, "zz", false},
		{FamilyOther, "anything-goes", true},
		{FamilyOther, "", false},
		{FamilyOther, " padded", false},
	}

	for _, tt := range tests {
		err := ValidateReceiver(tt.family, tt.receiver, params)
		if tt.ok {
			assert.NoError(t, err, "%s %s", tt.family, tt.receiver)
		} else {
			assert.ErrorIs(t, err, ErrInvalidReceiver, "%s %s", tt.family, tt.receiver)
		}
	}
}

func TestDestinationKeyPath(t *testing.T) {
	d1 := Destination{TargetChainId: "eICP", Receiver: "alice"}
	d2 := Destination{TargetChainId: "eICP", Receiver: "alice", Token: "Bitcoin-runes-X"}

	p1 := d1.KeyPath()
	assert.Len(t, p1, 4)
	assert.Equal(t, p1, d1.KeyPath())
	assert.NotEqual(t, p1, d2.KeyPath())
	for _, i := range p1 {
		assert.Less(t, i, uint32(0x80000000))
	}

	// field boundaries matter
	d3 := Destination{TargetChainId: "eIC", Receiver: "Palice"}
	assert.NotEqual(t, p1, d3.KeyPath())
}

func TestDirectiveCodec(t *testing.T) {
	directives := []Directive{
		AddChain{Chain: Chain{ChainId: "eICP", ChainType: ExecutionChain, ChainState: ChainActive, Family: FamilyOther}},
		UpdateToken{Token: Token{TokenId: "Bitcoin-runes-X", Symbol: "X", Decimals: 2, Metadata: map[string]string{MetadataRuneId: "840000:3"}}},
		ToggleChainState{ChainId: "Bitcoin", Action: ToggleDeactivate},
		UpdateFee{Factor: Factor{Kind: TargetChainFactor, TargetChainId: "eICP", Value: 12}},
	}

	for _, d := range directives {
		data, err := EncodeDirective(d)
		require.NoError(t, err)
		got, err := DecodeDirective(data)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := DecodeDirective([]byte(`{"kind":"burn_it_all","payload":{}}`))
	assert.ErrorIs(t, err, ErrUnknownDirectiveKind)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("500000")
	assert.NoError(t, err)
	assert.Equal(t, uint64(500000), v.Uint64())

	v, err = ParseAmount("340282366920938463463374607431768211455")
	assert.NoError(t, err)
	assert.Equal(t, 128, v.BitLen())

	for _, s := range []string{"", "0", "-1", "1.5", "abc", "340282366920938463463374607431768211456"} {
		_, err := ParseAmount(s)
		assert.ErrorIs(t, err, ErrInvalidAmount, s)
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", 3, time.Millisecond, nil, func() error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	permanent := errors.New("permanent")
	err = Retry(context.Background(), "test", 3, time.Millisecond, func(err error) bool {
		return errors.Is(err, permanent)
	}, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), "test", 3, time.Millisecond, nil, func() error {
		calls++
		return errors.New("always")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	// no attempts configured still calls once
	for _, attempts := range []int{0, -1} {
		calls = 0
		err = Retry(context.Background(), "test", attempts, time.Millisecond, nil, func() error {
			calls++
			return errors.New("down")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	}
}
