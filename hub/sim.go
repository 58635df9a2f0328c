package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
)

var ErrUnknownTicket = errors.New("unknown ticket")

// SimHub is an in-memory hub for tests and local runs.
type SimHub struct {
	mu         sync.Mutex
	tickets    []SeqTicket
	directives []SeqDirective
	sent       []common.Ticket
	txHashes   map[string][]string
	finalized  map[string]bool
	failures   map[string]error
	calls      map[string]int
}

func NewSimHub() *SimHub {
	return &SimHub{
		txHashes:  make(map[string][]string),
		finalized: make(map[string]bool),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// AddTicket queues a ticket on the next sequence number.
func (h *SimHub) AddTicket(t common.Ticket) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := uint64(len(h.tickets))
	h.tickets = append(h.tickets, SeqTicket{Seq: seq, Ticket: t})
	return seq
}

func (h *SimHub) AddDirective(d common.Directive) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := uint64(len(h.directives))
	h.directives = append(h.directives, SeqDirective{Seq: seq, Directive: d})
	return seq
}

// Fail makes every call of method return err until cleared with a nil err.
// Method names are the interface method names, e.g. "SendTicket".
func (h *SimHub) Fail(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, method)
		return
	}
	h.failures[method] = err
}

func (h *SimHub) enter(method string) error {
	h.calls[method]++
	return h.failures[method]
}

func (h *SimHub) Calls(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method]
}

func (h *SimHub) Sent() []common.Ticket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]common.Ticket(nil), h.sent...)
}

func (h *SimHub) TxHashes(ticketId string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.txHashes[ticketId]...)
}

func (h *SimHub) IsFinalized(ticketId string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalized[ticketId]
}

func window(n int, offset uint64, limit int) (int, int) {
	if offset >= uint64(n) || limit <= 0 {
		return 0, 0
	}
	start := int(offset)
	end := start + limit
	if end > n {
		end = n
	}
	return start, end
}

func (h *SimHub) QueryTickets(_ context.Context, offset uint64, limit int) ([]SeqTicket, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("QueryTickets"); err != nil {
		return nil, err
	}
	start, end := window(len(h.tickets), offset, limit)
	return append([]SeqTicket(nil), h.tickets[start:end]...), nil
}

func (h *SimHub) QueryDirectives(_ context.Context, offset uint64, limit int) ([]SeqDirective, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("QueryDirectives"); err != nil {
		return nil, err
	}
	start, end := window(len(h.directives), offset, limit)
	return append([]SeqDirective(nil), h.directives[start:end]...), nil
}

func (h *SimHub) SendTicket(_ context.Context, ticket common.Ticket) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("SendTicket"); err != nil {
		return err
	}
	h.sent = append(h.sent, ticket)
	return nil
}

func (h *SimHub) UpdateTxHash(_ context.Context, ticketId string, txHash string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("UpdateTxHash"); err != nil {
		return err
	}
	h.txHashes[ticketId] = append(h.txHashes[ticketId], txHash)
	return nil
}

func (h *SimHub) FinalizeTicket(_ context.Context, ticketId string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("FinalizeTicket"); err != nil {
		return err
	}
	h.finalized[ticketId] = true
	return nil
}
