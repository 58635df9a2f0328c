// This is the http boundary of the custody engine.
// Requests are decoded, passed to the engine
// and engine errors are mapped to http statuses.

package reporter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/custody"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
)

const (
	ROUTE_HELLO           = "/hello"
	ROUTE_GENERATE_TICKET = "/generate_ticket"
	ROUTE_UPDATE_BALANCE  = "/update_balance"
	ROUTE_RELEASE_TOKEN   = "/release_token"
	ROUTE_DIRECTIVE       = "/directive"
	ROUTE_CUSTODY_ADDRESS = "/custody_address"
	ROUTE_STATUS          = "/status/:ticket_id"
	ROUTE_DEPOSIT         = "/deposit/:tx_id"
	ROUTE_FEE             = "/fee"
	ROUTE_SUMMARY         = "/summary"
)

// Custody is the part of the engine served over http.
type Custody interface {
	GenerateTicket(ctx context.Context, args *custody.GenTicketArgs) error
	UpdateBalance(ctx context.Context, args *custody.UpdateBalanceArgs) error
	ReleaseToken(ctx context.Context, ticket *common.Ticket) error
	ApplyDirective(d common.Directive) error
	GetCustodyAddress(ctx context.Context, dest common.Destination) (string, error)
	GetStatus(ticketId string) (state.OutboundStatus, string)
	GetInboundStatus(txId string) state.InboundStatus
	GetServiceFee(target common.ChainId) (uint64, error)
	Summary() *custody.Summary
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	engine Custody
}

func NewHttpReporter(serverIP string, serverPort string, engine Custody) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		engine:     engine,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.POST(ROUTE_GENERATE_TICKET, h.GenerateTicket)
	router.POST(ROUTE_UPDATE_BALANCE, h.UpdateBalance)
	router.POST(ROUTE_RELEASE_TOKEN, h.ReleaseToken)
	router.POST(ROUTE_DIRECTIVE, h.Directive)
	router.GET(ROUTE_CUSTODY_ADDRESS, h.CustodyAddress)
	router.GET(ROUTE_STATUS, h.Status)
	router.GET(ROUTE_DEPOSIT, h.Deposit)
	router.GET(ROUTE_FEE, h.Fee)
	router.GET(ROUTE_SUMMARY, h.Summary)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// Server returns an http.Server for the routes, for callers that need to
// shut it down.
func (h *HttpReporter) Server() *http.Server {
	return &http.Server{
		Addr:    h.serverIP + ":" + h.serverPort,
		Handler: h.SetupRouter(),
	}
}

func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// httpStatus maps an engine error to the status the caller sees.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, custody.ErrAlreadySubmitted),
		errors.Is(err, custody.ErrMismatchWithPendingReq):
		return http.StatusConflict
	case errors.Is(err, custody.ErrNoNewUtxos),
		errors.Is(err, custody.ErrRequestNotFound),
		errors.Is(err, custody.ErrUtxoNotFound):
		return http.StatusNotFound
	case errors.Is(err, custody.ErrChainDeactivated):
		return http.StatusForbidden
	case custody.IsValidation(err), errors.Is(err, common.ErrUnknownDirectiveKind):
		return http.StatusBadRequest
	case custody.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		logger.WithField("route", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HttpReporter) GenerateTicket(c *gin.Context) {
	var args custody.GenTicketArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.GenerateTicket(c.Request.Context(), &args); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (h *HttpReporter) UpdateBalance(c *gin.Context) {
	var args custody.UpdateBalanceArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.UpdateBalance(c.Request.Context(), &args); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (h *HttpReporter) ReleaseToken(c *gin.Context) {
	var ticket common.Ticket
	if err := c.ShouldBindJSON(&ticket); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.ReleaseToken(c.Request.Context(), &ticket); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

// Directive takes the tagged encoding of common.EncodeDirective.
func (h *HttpReporter) Directive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := common.DecodeDirective(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.ApplyDirective(d); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (h *HttpReporter) CustodyAddress(c *gin.Context) {
	dest := common.Destination{
		TargetChainId: c.Query("target_chain_id"),
		Receiver:      c.Query("receiver"),
		Token:         c.Query("token"),
	}
	if dest.TargetChainId == "" || dest.Receiver == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_chain_id and receiver must be provided"})
		return
	}
	addr, err := h.engine.GetCustodyAddress(c.Request.Context(), dest)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr})
}

func (h *HttpReporter) Status(c *gin.Context) {
	status, txId := h.engine.GetStatus(c.Param("ticket_id"))
	c.JSON(http.StatusOK, gin.H{"status": status, "tx_id": txId})
}

func (h *HttpReporter) Deposit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.engine.GetInboundStatus(c.Param("tx_id"))})
}

func (h *HttpReporter) Fee(c *gin.Context) {
	target := c.Query("target_chain_id")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_chain_id must be provided"})
		return
	}
	fee, err := h.engine.GetServiceFee(target)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee": fee})
}

func (h *HttpReporter) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Summary())
}
