package custody

import (
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/runestone"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// ApplyDirective records and applies a control-plane directive.
// Updates of unknown chains or tokens add them.
func (e *Engine) ApplyDirective(d common.Directive) error {
	var ev state.Event
	switch d := d.(type) {
	case common.AddChain:
		ev = state.AddedChain{Chain: d.Chain}
	case common.UpdateChain:
		ev = state.AddedChain{Chain: d.Chain}
	case common.AddToken:
		if err := validateToken(&d.Token); err != nil {
			return err
		}
		ev = state.AddedToken{Token: d.Token}
	case common.UpdateToken:
		if err := validateToken(&d.Token); err != nil {
			return err
		}
		ev = state.AddedToken{Token: d.Token}
	case common.ToggleChainState:
		ev = state.ToggledChainState{ChainId: d.ChainId, Action: d.Action}
	case common.UpdateFee:
		ev = state.UpdatedFee{Factor: d.Factor}
	default:
		return fmt.Errorf("%w: %T", common.ErrUnknownDirectiveKind, d)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if toggle, ok := ev.(state.ToggledChainState); ok && toggle.ChainId != e.cfg.OwnChain {
		if _, known := e.state.Chains[toggle.ChainId]; !known {
			return fmt.Errorf("%w: %s", ErrUnknownChain, toggle.ChainId)
		}
	}
	if err := e.state.Validate(ev); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDirective, d.Kind(), err)
	}
	if err := e.commitLocked(ev); err != nil {
		return err
	}
	logger.WithField("kind", d.Kind()).Info("directive applied")
	return nil
}

func validateToken(t *common.Token) error {
	raw, ok := t.Metadata[common.MetadataRuneId]
	if !ok {
		return nil
	}
	if _, err := runestone.ParseRuneId(raw); err != nil {
		return fmt.Errorf("%w: token %s: %v", ErrInvalidDirective, t.TokenId, err)
	}
	return nil
}
