package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownDirectiveKind = errors.New("unknown directive kind")

// Directive is a control-plane instruction issued by the hub.
type Directive interface {
	Kind() string
}

type AddChain struct {
	Chain Chain `json:"chain"`
}

type UpdateChain struct {
	Chain Chain `json:"chain"`
}

type AddToken struct {
	Token Token `json:"token"`
}

type UpdateToken struct {
	Token Token `json:"token"`
}

type ToggleAction string

const (
	ToggleActivate   ToggleAction = "activate"
	ToggleDeactivate ToggleAction = "deactivate"
)

type ToggleChainState struct {
	ChainId ChainId      `json:"chain_id"`
	Action  ToggleAction `json:"action"`
}

type FactorKind string

const (
	TargetChainFactor FactorKind = "target_chain_factor"
	FeeTokenFactor    FactorKind = "fee_token_factor"
)

// Factor updates either the factor of a destination chain or the fee-token factor.
type Factor struct {
	Kind          FactorKind `json:"kind"`
	TargetChainId ChainId    `json:"target_chain_id,omitempty"`
	FeeToken      TokenId    `json:"fee_token,omitempty"`
	Value         uint64     `json:"value"`
}

type UpdateFee struct {
	Factor Factor `json:"factor"`
}

func (AddChain) Kind() string         { return "add_chain" }
func (UpdateChain) Kind() string      { return "update_chain" }
func (AddToken) Kind() string         { return "add_token" }
func (UpdateToken) Kind() string      { return "update_token" }
func (ToggleChainState) Kind() string { return "toggle_chain_state" }
func (UpdateFee) Kind() string        { return "update_fee" }

type directiveEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func EncodeDirective(d Directive) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(directiveEnvelope{Kind: d.Kind(), Payload: payload})
}

func DecodeDirective(data []byte) (Directive, error) {
	var env directiveEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode directive envelope: %w", err)
	}

	var d Directive
	switch env.Kind {
	case "add_chain":
		d = &AddChain{}
	case "update_chain":
		d = &UpdateChain{}
	case "add_token":
		d = &AddToken{}
	case "update_token":
		d = &UpdateToken{}
	case "toggle_chain_state":
		d = &ToggleChainState{}
	case "update_fee":
		d = &UpdateFee{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirectiveKind, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}

	return deref(d), nil
}

func deref(d Directive) Directive {
	switch v := d.(type) {
	case *AddChain:
		return *v
	case *UpdateChain:
		return *v
	case *AddToken:
		return *v
	case *UpdateToken:
		return *v
	case *ToggleChainState:
		return *v
	case *UpdateFee:
		return *v
	}
	return d
}
