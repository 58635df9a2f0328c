// Server = custody engine + hub syncer + event log/state db + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	btcrpc "github.com/octopus-network/omnity-interoperability-sub003/btcman/rpc"
	"github.com/octopus-network/omnity-interoperability-sub003/common"
	"github.com/octopus-network/omnity-interoperability-sub003/custody"
	"github.com/octopus-network/omnity-interoperability-sub003/database"
	"github.com/octopus-network/omnity-interoperability-sub003/eventstore"
	"github.com/octopus-network/omnity-interoperability-sub003/hub"
	"github.com/octopus-network/omnity-interoperability-sub003/reporter"
	"github.com/octopus-network/omnity-interoperability-sub003/signer"
	"github.com/octopus-network/omnity-interoperability-sub003/state"
	"github.com/octopus-network/omnity-interoperability-sub003/syncer"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// custody engine
	frequencyToSubmit  = 10 * time.Second
	frequencyToBumpFee = 60 * time.Second
	stuckTimeout       = 30 * time.Minute
	frequencyToConfirm = 30 * time.Second
	frequencyToReport  = 30 * time.Second
	confirmations      = 6
	retryAttempts      = 3
	retryBackoff       = 2 * time.Second

	// hub syncer
	frequencyToSync = 5 * time.Second
	syncBatchLimit  = 50

	DefaultMinReleaseAmount   = 10_000
	DefaultMaxPendingRequests = 100

	httpShutdownTimeout = 5 * time.Second
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type CustodyServerConfig struct {
	ChainId    string // own chain id, eg. Bitcoin
	BtcNetwork string // mainnet, testnet, regtest, signet

	// btc side
	BtcRpcServer   string // btc rpc server info
	BtcRpcPort     string // btc rpc server info
	BtcRpcUsername string // btc rpc server info
	BtcRpcPwd      string // btc rpc server info

	// state side
	DbFilePath       string // event log and cursors
	SnapshotFilePath string // upgrade snapshot, optional

	// signing: a remote signing service, or a local seed in hex
	SignerAddr string
	SignerSeed string

	HubAddr string

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	MinReleaseAmount   uint64
	MaxPendingRequests int

	// 0 means the default
	SyncInterval time.Duration

	// Prepared collaborators, used instead of the addresses above when set.
	Chain  btcrpc.ChainRPC
	Hub    hub.Hub
	Signer signer.Signer
}

// CustodyServer holds the objects that consists of the custody server.
type CustodyServer struct {
	SqlDb     *sql.DB
	Store     *eventstore.Store
	Snapshots *eventstore.SnapshotStore
	StateDb   *state.StateDB
	Engine    *custody.Engine
	Syncer    *syncer.Syncer
	Reporter  *reporter.HttpReporter
}

func (csc *CustodyServerConfig) engineConfig() *custody.Config {
	cfg := custody.DefaultConfig(csc.ChainId, csc.BtcNetwork)
	cfg.FrequencyToSubmit = frequencyToSubmit
	cfg.FrequencyToBumpFee = frequencyToBumpFee
	cfg.StuckTimeout = stuckTimeout
	cfg.FrequencyToConfirm = frequencyToConfirm
	cfg.FrequencyToReport = frequencyToReport
	cfg.Confirmations = confirmations
	cfg.RetryAttempts = retryAttempts
	cfg.RetryBackoff = retryBackoff
	cfg.MinReleaseAmount = DefaultMinReleaseAmount
	cfg.MaxPendingRequests = DefaultMaxPendingRequests
	if csc.MinReleaseAmount != 0 {
		cfg.MinReleaseAmount = csc.MinReleaseAmount
	}
	if csc.MaxPendingRequests != 0 {
		cfg.MaxPendingRequests = csc.MaxPendingRequests
	}
	return cfg
}

func (csc *CustodyServerConfig) setupSigner() (signer.Signer, error) {
	if csc.Signer != nil {
		return csc.Signer, nil
	}
	if csc.SignerAddr != "" {
		return signer.NewRemoteSigner(csc.SignerAddr)
	}
	if csc.SignerSeed == "" {
		return nil, errors.New("neither SIGNER_ADDR nor SIGNER_SEED is set")
	}
	seed, err := hex.DecodeString(common.Trim0xPrefix(csc.SignerSeed))
	if err != nil {
		return nil, fmt.Errorf("SIGNER_SEED: %w", err)
	}
	params, err := common.NetworkParams(csc.BtcNetwork)
	if err != nil {
		return nil, err
	}
	return signer.NewLocalSigner(seed, params)
}

// NewCustodyServer creates a new custody server and starts its loops.
// ctx is used for parental context to cancel the operation of the server.
// wg is used to wait for all the goroutines inside the server (engine, syncer, http) to finish.
func NewCustodyServer(csc *CustodyServerConfig, ctx context.Context, wg *sync.WaitGroup) (*CustodyServer, error) {
	params, err := common.NetworkParams(csc.BtcNetwork)
	if err != nil {
		return nil, err
	}

	// 0) collaborators: btc relay, signing service, hub
	chain := csc.Chain
	if chain == nil {
		rpcClient, err := SetupBtcRpc(csc.BtcRpcServer, csc.BtcRpcPort, csc.BtcRpcUsername, csc.BtcRpcPwd, params)
		if err != nil {
			return nil, err
		}
		chain = rpcClient
	}
	mySigner, err := csc.setupSigner()
	if err != nil {
		return nil, err
	}
	myHub := csc.Hub
	if myHub == nil {
		client, err := hub.NewClient(csc.HubAddr, csc.ChainId)
		if err != nil {
			return nil, err
		}
		myHub = client
	}

	// 1) event log, cursors and snapshot
	sqldb, err := database.OpenSQLite(csc.DbFilePath)
	if err != nil {
		return nil, err
	}
	store, err := eventstore.New(sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	myStateDb, err := state.NewStateDB(sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	var snapshots *eventstore.SnapshotStore
	if csc.SnapshotFilePath != "" {
		if snapshots, err = eventstore.OpenSnapshotStore(csc.SnapshotFilePath); err != nil {
			sqldb.Close()
			return nil, err
		}
	}

	server := &CustodyServer{
		SqlDb:     sqldb,
		Store:     store,
		Snapshots: snapshots,
		StateDb:   myStateDb,
	}

	// 2) the engine, nothing is served before boot
	engine, err := custody.New(csc.engineConfig(), store, snapshots, chain, mySigner, myHub)
	if err != nil {
		server.Close()
		return nil, err
	}
	if err := engine.Boot(); err != nil {
		server.Close()
		return nil, fmt.Errorf("boot: %w", err)
	}
	server.Engine = engine

	// 3) hub syncer
	interval := csc.SyncInterval
	if interval == 0 {
		interval = frequencyToSync
	}
	mySyncer, err := syncer.New(&syncer.Config{
		OwnChain:   csc.ChainId,
		Hub:        myHub,
		StateDB:    myStateDb,
		Ledger:     engine,
		Interval:   interval,
		BatchLimit: syncBatchLimit,
	})
	if err != nil {
		server.Close()
		return nil, err
	}
	server.Syncer = mySyncer

	// Important: Turn on the loops!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("custody engine stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mySyncer.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("hub syncer stopped: %v", err)
		}
	}()

	// 4) http boundary
	server.Reporter = reporter.NewHttpReporter(csc.HttpIp, csc.HttpPort, engine)
	httpServer := server.Reporter.Server()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logger.Fields{"chain": csc.ChainId, "network": csc.BtcNetwork, "http": httpServer.Addr}).Info("custody server started")
	return server, nil
}

// Close releases the storage. Call it after the loops are done.
func (s *CustodyServer) Close() {
	if s.Snapshots != nil {
		s.Snapshots.Close()
	}
	if s.StateDb != nil {
		s.StateDb.Close()
	}
	s.Store.Close()
	s.SqlDb.Close()
}

// Create, then start the custody server and wait.
// Press Ctrl-C to kill the server.
func StartCustodyServerAndWait(csc *CustodyServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	server, err := NewCustodyServer(csc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create custody server: %v", err)
		return
	}

	wg.Wait()
	server.Close()
}

// ReplayReport is what the replay command prints.
type ReplayReport struct {
	Events   uint64           `json:"events"`
	Summary  *custody.Summary `json:"summary"`
	Snapshot string           `json:"snapshot"` // none, match or mismatch
}

// ReplayLog folds the event log at dbPath and checks the snapshot at
// snapshotPath against it. Nothing is written to the log.
func ReplayLog(dbPath, snapshotPath string) (*ReplayReport, error) {
	sqldb, err := database.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	defer sqldb.Close()
	store, err := eventstore.New(sqldb)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	st, n, err := state.Replay(store.Iterate())
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	report := &ReplayReport{Events: n, Summary: custody.Summarize(st), Snapshot: "none"}
	report.Summary.LastSeq = store.LastSeq()

	if snapshotPath == "" || !FileExists(snapshotPath) {
		return report, nil
	}
	snapshots, err := eventstore.OpenSnapshotStore(snapshotPath)
	if err != nil {
		return nil, err
	}
	defer snapshots.Close()
	snap, err := snapshots.Load()
	if err != nil || snap == nil {
		return report, err
	}

	at, _, err := state.Replay(state.Prefix(store.Iterate(), snap.Seq))
	if err != nil {
		return nil, err
	}
	a, err := json.Marshal(at)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(snap.State)
	if err != nil {
		return nil, err
	}
	report.Snapshot = "mismatch"
	if bytes.Equal(a, b) {
		report.Snapshot = "match"
	}
	return report, nil
}
