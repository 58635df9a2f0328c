// Package syncer pulls tickets and directives from the hub in sequence order
// and hands them to the custody ledger. The cursor of a stream moves past an
// item only once it was applied or skipped for good.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/custody"
	"github.com/octopus-network/omnity-interoperability-sub003/hub"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

const (
	MinTickerInterval = 100 * time.Millisecond
	DefaultBatchLimit = 50

	TaskSyncTickets    = "sync_tickets"
	TaskSyncDirectives = "sync_directives"
)

var (
	ErrMissingDependency = errors.New("missing dependency")
	errNotForUs          = errors.New("ticket not for this chain")
)

// Ledger is what the syncer needs of the custody engine.
type Ledger interface {
	ReleaseToken(ctx context.Context, ticket *common.Ticket) error
	ApplyDirective(d common.Directive) error
	RunTask(ctx context.Context, name string, fn func(context.Context) error) error
}

type Syncer struct {
	ownChain common.ChainId
	hub      hub.Hub
	db       *state.StateDB
	ledger   Ledger
	interval time.Duration
	limit    int
}

func New(cfg *Config) (*Syncer, error) {
	if cfg.Hub == nil || cfg.StateDB == nil || cfg.Ledger == nil {
		return nil, ErrMissingDependency
	}

	d := cfg.Interval
	if d < MinTickerInterval {
		d = MinTickerInterval
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	return &Syncer{
		ownChain: cfg.OwnChain,
		hub:      cfg.Hub,
		db:       cfg.StateDB,
		ledger:   cfg.Ledger,
		interval: d,
		limit:    limit,
	}, nil
}

// item is one stream entry ready to be applied.
type item struct {
	seq   uint64
	desc  string
	apply func() error
}

// skippable tells whether err means the item can never be applied.
func skippable(err error) bool {
	return custody.IsValidation(err) ||
		errors.Is(err, common.ErrUnknownDirectiveKind) ||
		errors.Is(err, errNotForUs)
}

// pull applies the items of stream from its cursor on, batch after batch,
// until the hub has nothing more. It stops at the first item that may
// succeed later, leaving the cursor on it.
func (s *Syncer) pull(ctx context.Context, stream string, fetch func(ctx context.Context, offset uint64, limit int) ([]item, error)) (int, error) {
	next, err := s.db.GetCursor(stream)
	if err != nil {
		return 0, err
	}

	applied := 0
	for {
		items, err := fetch(ctx, next, s.limit)
		if err != nil {
			return applied, fmt.Errorf("query %s at %d: %w", stream, next, err)
		}

		start := next
		for _, it := range items {
			// already applied
			if it.seq < next {
				continue
			}

			err := it.apply()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, custody.ErrAlreadySubmitted):
				logger.WithFields(logger.Fields{"stream": stream, "seq": it.seq}).Debug("item already applied")
			case skippable(err):
				logger.WithFields(logger.Fields{"stream": stream, "seq": it.seq, "item": it.desc}).Warnf("item skipped: %v", err)
			default:
				return applied, fmt.Errorf("%s %d (%s): %w", stream, it.seq, it.desc, err)
			}

			next = it.seq + 1
			if err := s.db.SetCursor(stream, next); err != nil {
				return applied, err
			}
		}

		if len(items) < s.limit {
			return applied, nil
		}
		if next == start {
			logger.WithFields(logger.Fields{"stream": stream, "offset": next}).Warn("hub returned no item past the cursor")
			return applied, nil
		}
	}
}

// SyncTickets pulls release tickets from the hub.
func (s *Syncer) SyncTickets(ctx context.Context) error {
	n, err := s.pull(ctx, state.TicketStream, func(ctx context.Context, offset uint64, limit int) ([]item, error) {
		tickets, err := s.hub.QueryTickets(ctx, offset, limit)
		if err != nil {
			return nil, err
		}
		items := make([]item, len(tickets))
		for i, t := range tickets {
			ticket := t.Ticket
			items[i] = item{
				seq:  t.Seq,
				desc: ticket.TicketId,
				apply: func() error {
					if ticket.DstChain != s.ownChain {
						return fmt.Errorf("%w: %s", errNotForUs, ticket.DstChain)
					}
					return s.ledger.ReleaseToken(ctx, &ticket)
				},
			}
		}
		return items, nil
	})
	if n > 0 {
		logger.WithField("count", n).Info("tickets synced")
	}
	return err
}

// SyncDirectives pulls control-plane directives from the hub.
func (s *Syncer) SyncDirectives(ctx context.Context) error {
	n, err := s.pull(ctx, state.DirectiveStream, func(ctx context.Context, offset uint64, limit int) ([]item, error) {
		directives, err := s.hub.QueryDirectives(ctx, offset, limit)
		if err != nil {
			return nil, err
		}
		items := make([]item, len(directives))
		for i, d := range directives {
			directive := d.Directive
			items[i] = item{
				seq:   d.Seq,
				desc:  directive.Kind(),
				apply: func() error { return s.ledger.ApplyDirective(directive) },
			}
		}
		return items, nil
	})
	if n > 0 {
		logger.WithField("count", n).Info("directives synced")
	}
	return err
}

// SyncOnce runs both streams, directives first so tickets see the latest
// chains and tokens.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	err := s.ledger.RunTask(ctx, TaskSyncDirectives, s.SyncDirectives)
	if err != nil {
		logger.WithField("task", TaskSyncDirectives).Warnf("sync stopped: %v", err)
	}
	if err2 := s.ledger.RunTask(ctx, TaskSyncTickets, s.SyncTickets); err2 != nil {
		logger.WithField("task", TaskSyncTickets).Warnf("sync stopped: %v", err2)
		err = errors.Join(err, err2)
	}
	return err
}

func (s *Syncer) Sync(ctx context.Context) error {
	logger.Info("starting hub synchronization")
	ticker := time.NewTicker(s.interval)
	defer func() {
		logger.Info("stopping hub synchronization")
		ticker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// failures are retried on the next tick
			_ = s.SyncOnce(ctx)
		}
	}
}
