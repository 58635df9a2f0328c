package custody

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

// Report sends the hub what it has not acknowledged yet: tickets of
// confirmed deposits and the finalization of confirmed releases.
func (e *Engine) Report(ctx context.Context) error {
	e.mu.Lock()
	var inbound []string
	for _, req := range e.state.ConfirmedInbound() {
		inbound = append(inbound, req.TxId)
	}
	e.mu.Unlock()

	for _, txId := range inbound {
		g, err := e.guards.AcquireKey(guardInbound, txId)
		if err != nil {
			continue
		}
		if err := e.forwardInbound(ctx, txId); err != nil {
			logger.WithField("tx_id", txId).Warnf("ticket not forwarded yet: %v", err)
		}
		g.Release()
	}

	e.finalizeReleases(ctx)
	return nil
}

func (e *Engine) finalizeReleases(ctx context.Context) {
	e.mu.Lock()
	var ids []string
	for _, req := range e.state.UnreportedOutbound() {
		ids = append(ids, req.TicketId)
	}
	e.mu.Unlock()

	for _, id := range ids {
		g, err := e.guards.AcquireKey("release", id)
		if err != nil {
			continue
		}
		e.finalizeRelease(ctx, id)
		g.Release()
	}
}

func (e *Engine) finalizeRelease(ctx context.Context, id string) {
	e.mu.Lock()
	req, ok := e.state.Outbound[id]
	done := !ok || req.Finalized
	e.mu.Unlock()
	if done {
		return
	}

	err := e.retry(ctx, "finalize_ticket", func() error {
		return wrapCall("finalize_ticket", e.hub.FinalizeTicket(ctx, id))
	})
	if err != nil {
		logger.WithField("ticket_id", id).Warnf("failed to finalize ticket: %v", err)
		return
	}
	if err := e.commit(state.FinalizedReleaseRequest{TicketId: id}); err != nil {
		logger.WithField("ticket_id", id).Errorf("failed to record finalization: %v", err)
		return
	}
	logger.WithField("ticket_id", id).Info("release finalized")
}
