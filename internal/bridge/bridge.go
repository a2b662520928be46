// Package bridge wires every component into a single Context, following the
// teacher's pattern of an explicit struct assembled in main rather than
// package-level globals.
package bridge

import (
	"context"
	"fmt"

	"github.com/boonlink/promptpay-bridge/internal/capability"
	"github.com/boonlink/promptpay-bridge/internal/config"
	"github.com/boonlink/promptpay-bridge/internal/db"
	"github.com/boonlink/promptpay-bridge/internal/eip712"
	"github.com/boonlink/promptpay-bridge/internal/httpapi"
	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/metrics"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/network"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/boonlink/promptpay-bridge/internal/processor"
	"github.com/boonlink/promptpay-bridge/internal/queue"
	"github.com/boonlink/promptpay-bridge/internal/quote"
	"github.com/boonlink/promptpay-bridge/internal/sync"
	"github.com/boonlink/promptpay-bridge/internal/tools"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Context holds every wired component the bridge's cmd entrypoints need.
type Context struct {
	Config *config.Config
	Log    logging.Logger
	Rec    metrics.Recorder
	Pool   *pgxpool.Pool

	Orders     *orders.Store
	Queue      *queue.Store
	QuoteCache *quote.Cache
	QuoteEng   *quote.Engine

	Blockchain capability.Blockchain
	Exchange   capability.Exchange
	Settlement capability.Settlement

	Detector  *network.Detector
	Audit     *network.AuditLog
	Processor *processor.Processor
	Sync      *sync.Coordinator
	Tools     *tools.Orchestrator
	HTTP      *httpapi.Server
}

// New wires every component from configuration. Demo mode uses the mock
// Blockchain; otherwise the concrete EVM blockchain adapter is used. The
// Exchange and Settlement capabilities are the mock implementations in both
// modes.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	var log logging.Logger = logging.NoopLogger{}
	if cfg.Logging.Level != "" {
		log = logging.NewZapLogger(cfg.Logging.Level)
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		rec = metrics.NewPrometheusRecorder()
	}

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect db: %w", err)
	}

	orderStore := orders.NewStore(pool)
	queueStore := queue.NewStore(pool)

	quoteCache := quote.NewCache(quote.MockRateSource{})
	quoteEngine := quote.NewEngine(quoteCache, decimal.NewFromFloat(cfg.Payment.MaxAmountTHB))

	var blockchain capability.Blockchain
	var exchange capability.Exchange
	var settlement capability.Settlement

	if cfg.Demo.Enabled {
		mockBC := capability.NewMockBlockchain()
		if cfg.Demo.XPub != "" {
			mockBC.Deriver = &capability.DemoAddressDeriver{XPub: cfg.Demo.XPub, Prefix: cfg.Demo.AddressPrefix}
			token := models.Token(cfg.Payment.DefaultToken)
			if addr, err := mockBC.SeedDemoWallet(0, token, decimal.NewFromInt(1000)); err != nil {
				log.Warn("demo wallet derivation failed", map[string]any{"error": err.Error()})
			} else {
				log.Info("demo wallet seeded", map[string]any{"address": addr, "token": token})
			}
		}
		blockchain = mockBC
		exchange = capability.NewMockExchange(quoteCache, quoteEngine)
		settlement = capability.NewMockSettlement()
	} else {
		evm, err := capability.NewEVMBlockchain(cfg.Chain.RPCEndpoints, 3)
		if err != nil {
			return nil, fmt.Errorf("bridge: evm blockchain: %w", err)
		}
		if cfg.Chain.WSEndpoint != "" {
			evm.UseWSWatcher(ctx, capability.NewWSConfirmationWatcher(cfg.Chain.WSEndpoint, log))
		}
		blockchain = evm
		exchange = capability.NewMockExchange(quoteCache, quoteEngine)
		settlement = capability.NewMockSettlement()
	}

	detector := network.NewDetector(cfg.Network.ProbeEndpoints, cfg.Network.ProbeInterval, cfg.Network.ProbeTimeout, log)
	audit := network.NewAuditLog(pool)

	proc := processor.New(orderStore, queueStore, blockchain, settlement, detector, log, rec)
	syncCoord := sync.New(orderStore, queueStore, proc, detector, log)
	eip712Domain := eip712.Domain{
		Name:              cfg.EIP712.DomainName,
		Version:           cfg.EIP712.DomainVersion,
		ChainID:           cfg.Chain.ChainID,
		VerifyingContract: cfg.EIP712.VerifyingContract,
	}
	orchestrator := tools.New(orderStore, queueStore, quoteEngine, blockchain, proc, cfg.Payment.CollectionAddr, eip712Domain, log)

	handler := httpapi.NewHandler(orchestrator, syncCoord)
	server := httpapi.NewServer(handler)

	return &Context{
		Config:     cfg,
		Log:        log,
		Rec:        rec,
		Pool:       pool,
		Orders:     orderStore,
		Queue:      queueStore,
		QuoteCache: quoteCache,
		QuoteEng:   quoteEngine,
		Blockchain: blockchain,
		Exchange:   exchange,
		Settlement: settlement,
		Detector:   detector,
		Audit:      audit,
		Processor:  proc,
		Sync:       syncCoord,
		Tools:      orchestrator,
		HTTP:       server,
	}, nil
}

// Start begins the network detector's probe loop, attaches the audit log,
// and starts the queue processor's ticker/wake loop. The processor's Run
// goroutine exits when ctx is cancelled.
func (c *Context) Start(ctx context.Context) {
	c.Detector.Start(ctx)
	c.Audit.Attach(c.Detector, func(err error) {
		c.Log.Warn("network audit log write failed", map[string]any{"error": err.Error()})
	})
	go c.Processor.Run(ctx)
}

// Stop halts the network detector's probe loop and closes the database pool.
func (c *Context) Stop() {
	c.Detector.Stop()
	c.Pool.Close()
}
