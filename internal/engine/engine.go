// Package engine owns the per-pair matching loops: each trading pair is
// processed by exactly one goroutine reading from a bounded command
// channel, so every submit/cancel/snapshot against a given pair's book
// is strictly ordered, while independent pairs run fully in parallel.
// This mirrors the teacher's pkg/matching/engine.go per-symbol
// goroutine split, generalized from its single in-process mutex to an
// explicit command-channel loop so backpressure (Overloaded) and
// crash-halt (a fatal settlement breach) are observable to callers
// instead of silently blocking or panicking.
package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/tradSys/internal/balance"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/events"
	"github.com/abdoElHodaky/tradSys/internal/execution"
	"github.com/abdoElHodaky/tradSys/internal/matching"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
	errs "github.com/abdoElHodaky/tradSys/pkg/errors"
)

// pairLoop owns one pair's order book exclusively. halted is set once a
// settlement invariant breach (balance.ErrInsufficientLocked surfacing
// as execution.ErrSettlementFailed) is observed; once halted, the loop
// keeps draining its channel just to fail every request fast rather
// than leaving callers blocked forever.
type pairLoop struct {
	pair    Pair
	book    *orderbook.OrderBook
	resting map[uint64]*orderbook.OrderEntry
	cmds    chan request

	// halted and haltErr are only ever touched from within run(), the
	// single goroutine that owns this pairLoop; no lock needed.
	halted  bool
	haltErr error
}

// Options configures an Engine. All fields have workable zero-value
// defaults applied by NewEngine.
type Options struct {
	// QueueDepth is the bounded channel capacity per pair loop. A submit
	// that cannot enqueue before its context deadline fails with
	// errs.Overloaded. Default 1024.
	QueueDepth int

	// SnapshotRateLimit bounds SnapshotBook calls per pair per second.
	// Default 50.
	SnapshotRateLimit rate.Limit

	// PublishWorkers is the size of the async event-publish worker
	// pool. Default 32.
	PublishWorkers int
}

func (o Options) withDefaults() Options {
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.SnapshotRateLimit <= 0 {
		o.SnapshotRateLimit = 50
	}
	if o.PublishWorkers <= 0 {
		o.PublishWorkers = 32
	}
	return o
}

// Engine is the matching engine: a balance store shared across every
// pair loop, a publisher for the durable event log, and one goroutine
// per pair that has ever seen a command.
type Engine struct {
	balances  *balance.Store
	publisher events.Publisher
	logger    *zap.Logger

	offsets    *events.OffsetAllocator
	instanceID string

	breaker *gobreaker.CircuitBreaker
	pool    *ants.Pool

	opts Options

	mu    sync.Mutex
	pairs map[Pair]*pairLoop

	nextOrderID uint64
	nextTradeID uint64

	snapshotLimiters sync.Map // Pair -> *rate.Limiter
}

// NewEngine creates an Engine over balances, publishing durable events
// through publisher. Closing is the caller's responsibility via
// Close(), which releases the publish worker pool.
func NewEngine(balances *balance.Store, publisher events.Publisher, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	pool, err := ants.NewPool(opts.PublishWorkers, ants.WithNonblocking(true))
	if err != nil {
		// ants.NewPool only fails on a non-positive size, which
		// withDefaults rules out; fall back to a minimal pool rather
		// than panic in a constructor.
		pool, _ = ants.NewPool(1)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-publisher",
		MaxRequests: 8,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Engine{
		balances:   balances,
		publisher:  publisher,
		logger:     logger,
		offsets:    events.NewOffsetAllocator(),
		instanceID: events.NewEngineInstanceID(),
		breaker:    cb,
		pool:       pool,
		opts:       opts,
		pairs:      make(map[Pair]*pairLoop),
	}
}

// Close releases the engine's publish worker pool. Pair loop goroutines
// are daemonic for the process lifetime; there is no per-pair shutdown.
func (e *Engine) Close() {
	e.pool.Release()
}

func (e *Engine) getOrCreatePair(pair Pair) *pairLoop {
	e.mu.Lock()
	defer e.mu.Unlock()

	pl, ok := e.pairs[pair]
	if ok {
		return pl
	}
	pl = &pairLoop{
		pair:    pair,
		book:    orderbook.New(pair),
		resting: make(map[uint64]*orderbook.OrderEntry),
		cmds:    make(chan request, e.opts.QueueDepth),
	}
	e.pairs[pair] = pl
	go e.run(pl)
	return pl
}

func (e *Engine) snapshotLimiterFor(pair Pair) *rate.Limiter {
	if v, ok := e.snapshotLimiters.Load(pair); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(e.opts.SnapshotRateLimit, int(e.opts.SnapshotRateLimit))
	actual, _ := e.snapshotLimiters.LoadOrStore(pair, lim)
	return actual.(*rate.Limiter)
}

// run is the single goroutine that ever touches pl.book.
func (e *Engine) run(pl *pairLoop) {
	for req := range pl.cmds {
		switch {
		case req.submit != nil:
			req.reply <- e.handleSubmit(pl, *req.submit)
		case req.cancel != nil:
			req.reply <- e.handleCancel(pl, *req.cancel)
		case req.snapshot != nil:
			req.reply <- response{snapshot: pl.book.Depth(req.snapshot.Depth)}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, pl *pairLoop, req request) (response, error) {
	select {
	case pl.cmds <- req:
	case <-ctx.Done():
		return response{}, errs.New(errs.Overloaded, "engine: command queue full for pair "+pl.pair.String())
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// SubmitOrder enqueues a new order against its pair's loop and blocks
// until it has been fully processed (locked, matched, settled).
func (e *Engine) SubmitOrder(ctx context.Context, cmd SubmitOrder) (Accepted, error) {
	if err := validateSubmit(cmd); err != nil {
		return Accepted{}, err
	}

	pl := e.getOrCreatePair(cmd.Pair)
	reply := make(chan response, 1)
	resp, err := e.dispatch(ctx, pl, request{submit: &cmd, reply: reply})
	return resp.accepted, err
}

// CancelOrder enqueues a cancel against its pair's loop.
func (e *Engine) CancelOrder(ctx context.Context, cmd CancelOrder) error {
	pl := e.getOrCreatePair(cmd.Pair)
	reply := make(chan response, 1)
	_, err := e.dispatch(ctx, pl, request{cancel: &cmd, reply: reply})
	return err
}

// SnapshotBook enqueues a depth-snapshot read against its pair's loop,
// throttled per pair so a chatty caller cannot starve matching
// throughput with repeated O(depth) copies.
func (e *Engine) SnapshotBook(ctx context.Context, cmd SnapshotBook) (orderbook.Snapshot, error) {
	if !e.snapshotLimiterFor(cmd.Pair).Allow() {
		return orderbook.Snapshot{}, errs.New(errs.Overloaded, "engine: snapshot rate limit exceeded for pair "+cmd.Pair.String())
	}
	pl := e.getOrCreatePair(cmd.Pair)
	reply := make(chan response, 1)
	resp, err := e.dispatch(ctx, pl, request{snapshot: &cmd, reply: reply})
	return resp.snapshot, err
}

// Deposit credits available balance. Deposits are not pair-scoped and
// bypass every pair loop, acting directly on the shared balance store.
func (e *Engine) Deposit(ctx context.Context, cmd Deposit) error {
	if err := e.balances.CreditAvailable(cmd.UserID, balance.Asset(cmd.Asset), cmd.Amount); err != nil {
		return errs.Wrap(err, errs.InvalidOrder, "engine: deposit rejected")
	}
	e.publishAsync(events.Envelope{
		Kind: events.KindBalanceChanged,
		Pair: cmd.Asset,
		Payload: map[string]string{
			"user_id": cmd.UserID, "asset": cmd.Asset, "delta": cmd.Amount.String(), "reason": "deposit",
		},
	})
	return nil
}

// Withdraw debits available balance.
func (e *Engine) Withdraw(ctx context.Context, cmd Withdraw) error {
	if err := e.balances.DebitAvailable(cmd.UserID, balance.Asset(cmd.Asset), cmd.Amount); err != nil {
		return errs.Wrap(err, errs.InsufficientAvailable, "engine: withdrawal rejected")
	}
	e.publishAsync(events.Envelope{
		Kind: events.KindBalanceChanged,
		Pair: cmd.Asset,
		Payload: map[string]string{
			"user_id": cmd.UserID, "asset": cmd.Asset, "delta": cmd.Amount.Neg().String(), "reason": "withdraw",
		},
	})
	return nil
}

// SyncAvailable applies an administrative delta (e.g. daily settlement
// correction) to available balance.
func (e *Engine) SyncAvailable(ctx context.Context, cmd SyncAvailable) error {
	if err := e.balances.SyncAvailable(cmd.UserID, balance.Asset(cmd.Asset), cmd.Delta); err != nil {
		return errs.Wrap(err, errs.InsufficientAvailable, "engine: sync_available rejected")
	}
	e.publishAsync(events.Envelope{
		Kind: events.KindBalanceChanged,
		Pair: cmd.Asset,
		Payload: map[string]string{
			"user_id": cmd.UserID, "asset": cmd.Asset, "delta": cmd.Delta.String(), "reason": "sync_available",
		},
	})
	return nil
}

func validateSubmit(cmd SubmitOrder) error {
	if cmd.UserID == "" {
		return errs.New(errs.InvalidOrder, "engine: user_id is required")
	}
	if cmd.Kind == Limit && !cmd.Price.IsPositive() {
		return errs.New(errs.InvalidOrder, "engine: limit order requires a positive price")
	}
	if cmd.Kind == Market && cmd.Side == Buy {
		hasAmount := cmd.Amount.IsPositive()
		hasQuote := cmd.QuoteAmount.IsPositive()
		if hasAmount == hasQuote {
			return errs.New(errs.InvalidOrder, "engine: market buy requires exactly one of amount or quote_amount")
		}
	} else if !cmd.Amount.IsPositive() {
		return errs.New(errs.InvalidOrder, "engine: amount must be positive")
	}
	return nil
}

// lockAssetAndAmount returns which asset and how much of it SubmitOrder
// must lock up front, and for an amount-mode market buy, the quote
// budget substituted for the matcher's quote-mode path (see the doc
// comment on amountModeMarketBuyBudget below).
func (e *Engine) lockAssetAndAmount(cmd SubmitOrder) (asset balance.Asset, amount decimal.Decimal, quoteBudget decimal.Decimal) {
	if cmd.Side == Sell {
		return balance.Asset(cmd.Pair.Base), cmd.Amount, decimal.Zero
	}
	// Buy side locks quote currency.
	if cmd.Kind == Limit {
		return balance.Asset(cmd.Pair.Quote), cmd.Price.Mul(cmd.Amount), decimal.Zero
	}
	if cmd.QuoteAmount.IsPositive() {
		return balance.Asset(cmd.Pair.Quote), cmd.QuoteAmount, cmd.QuoteAmount
	}
	// Amount-mode market buy: see amountModeMarketBuyBudget.
	return balance.Asset(cmd.Pair.Quote), decimal.Zero, decimal.Zero
}

// amountModeMarketBuyBudget resolves the one open design question
// spec.md leaves unanswered for a market buy expressed as a base
// quantity rather than a quote budget: what should be locked when there
// is no price ceiling to compute a cost from up front?
//
// Locking only `amount * best_ask` is unsafe: price can walk up through
// further levels as the match consumes them, and a mid-match transfer
// that exceeds what was locked is a settlement invariant breach (fatal,
// halts the pair loop). The only bound that is always sufficient is the
// buyer's full available quote balance, so amount-mode market buys are
// executed internally as quote-mode orders budgeted at that balance.
// The requested base amount is not separately enforced as a cap once
// converted: a user typically receives less than requested if their
// balance cannot cover it at the prices available, and in principle
// could receive more if prices are favorable enough to spend the whole
// budget before reaching the requested amount, but never a fatal
// overdraw.
func (e *Engine) amountModeMarketBuyBudget(userID string, quoteAsset balance.Asset) (decimal.Decimal, error) {
	snap := e.balances.Snapshot(userID, quoteAsset)
	if !snap.Available.IsPositive() {
		return decimal.Zero, errs.New(errs.InsufficientAvailable, "engine: no available quote balance for market buy")
	}
	return snap.Available, nil
}

func (e *Engine) handleSubmit(pl *pairLoop, cmd SubmitOrder) response {
	if pl.halted {
		return response{err: pl.haltErr}
	}

	id := cmd.ID
	if id == 0 {
		id = atomic.AddUint64(&e.nextOrderID, 1)
	}
	createdAt := cmd.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	lockAsset, lockAmount, quoteModeBudget := e.lockAssetAndAmount(cmd)
	amountModeMarketBuy := cmd.Kind == Market && cmd.Side == Buy && !cmd.QuoteAmount.IsPositive()

	if amountModeMarketBuy {
		budget, err := e.amountModeMarketBuyBudget(cmd.UserID, lockAsset)
		if err != nil {
			return response{err: err}
		}
		lockAmount = budget
		quoteModeBudget = budget
	}

	if !cmd.SkipLock {
		if err := e.balances.Lock(cmd.UserID, lockAsset, lockAmount); err != nil {
			return response{err: errs.Wrap(err, errs.InsufficientAvailable, "engine: order rejected")}
		}
	}

	// Quote-mode orders (genuine budget submits and amount-mode market
	// buys converted to a budget above) track their filled base amount
	// starting from zero: the matcher accumulates it as matches land
	// rather than counting down from a requested quantity.
	startAmount := cmd.Amount
	if quoteModeBudget.IsPositive() {
		startAmount = decimal.Zero
	}

	entry := &orderbook.OrderEntry{
		ID: id, UserID: cmd.UserID, Side: cmd.Side, Kind: cmd.Kind, Pair: cmd.Pair,
		Price: cmd.Price, Amount: startAmount, QuoteAmount: quoteModeBudget,
		RemainingAmount: startAmount, CreatedAt: createdAt.UnixNano(),
	}
	if quoteModeBudget.IsPositive() {
		entry.RemainingQuoteAmount = quoteModeBudget
	}

	results, err := matching.Match(entry, pl.book)
	if err != nil {
		if !cmd.SkipLock {
			_ = e.balances.Unlock(cmd.UserID, lockAsset, lockAmount)
		}
		return response{err: errs.Wrap(err, errs.InvalidOrder, "engine: order rejected")}
	}

	exec := execution.New(e.balances)
	var matches []Match
	consumed := decimal.Zero
	filledQuote := decimal.Zero
	for _, r := range results {
		if err := exec.Apply(balance.Asset(cmd.Pair.Quote), balance.Asset(cmd.Pair.Base), r); err != nil {
			pl.halted = true
			pl.haltErr = errs.Wrap(err, errs.InsufficientLocked, "engine: settlement invariant breach, pair halted")
			e.logger.Error("pair loop halted on settlement failure",
				zap.String("pair", pl.pair.String()), zap.Error(err))
			return response{err: pl.haltErr}
		}
		if cmd.Side == Buy && r.BuyOrderID == entry.ID {
			consumed = consumed.Add(r.Price.Mul(r.Amount))
		} else if cmd.Side == Sell && r.SellOrderID == entry.ID {
			consumed = consumed.Add(r.Amount)
		}
		filledQuote = filledQuote.Add(r.Price.Mul(r.Amount))
		matches = append(matches, Match{
			BuyOrderID: r.BuyOrderID, SellOrderID: r.SellOrderID,
			BuyerID: r.BuyerID, SellerID: r.SellerID, Price: r.Price, Amount: r.Amount,
		})
		tradeID := atomic.AddUint64(&e.nextTradeID, 1)
		e.publishAsync(events.Envelope{
			Kind: events.KindTradeExecuted, Pair: cmd.Pair.String(),
			Payload: map[string]string{
				"trade_id":       u64s(tradeID),
				"buy_order_id":   u64s(r.BuyOrderID),
				"sell_order_id":  u64s(r.SellOrderID),
				"buyer_id":       r.BuyerID,
				"seller_id":      r.SellerID,
				"price":          r.Price.String(),
				"amount":         r.Amount.String(),
				"taker_order_id": u64s(entry.ID),
			},
		})
	}

	fullyFilled := !entry.RemainingAmount.IsPositive()
	if quoteModeBudget.IsPositive() {
		fullyFilled = !entry.RemainingQuoteAmount.IsPositive()
		// A leftover budget too small to buy any base at the best
		// remaining ask counts as filled; it is released below.
		if bestAsk, ok := pl.book.BestAsk(); ok && !fullyFilled {
			if affordable, err := entry.RemainingQuoteAmount.DivFloor(bestAsk); err == nil && !affordable.IsPositive() {
				fullyFilled = true
			}
		}
	}

	rests := cmd.Kind == Limit && !fullyFilled
	if !cmd.SkipLock {
		reserve := decimal.Zero
		if rests {
			if cmd.Side == Buy {
				reserve = cmd.Price.Mul(entry.RemainingAmount)
			} else {
				reserve = entry.RemainingAmount
			}
		}
		excess := lockAmount.Sub(consumed).Sub(reserve)
		if excess.IsPositive() {
			if err := e.balances.Unlock(cmd.UserID, lockAsset, excess); err != nil {
				e.logger.Error("failed to unlock excess reservation", zap.Error(err))
			}
		}
	}

	status := StatusFilled
	switch {
	case rests && entry.FilledAmount.IsPositive():
		status = StatusPartial
	case rests:
		status = StatusPending
	case fullyFilled:
		status = StatusFilled
	case entry.FilledAmount.IsPositive():
		status = StatusPartial
	default:
		// A market order that never rests and never filled anything
		// (e.g. an empty book) has nothing partial about it.
		status = StatusRejected
	}

	if rests {
		pl.book.SideFor(cmd.Side).Add(entry)
		pl.resting[entry.ID] = entry
	}

	order := Order{
		ID: entry.ID, UserID: cmd.UserID, Side: cmd.Side, Kind: cmd.Kind, Pair: cmd.Pair,
		Price: cmd.Price, Amount: entry.Amount, QuoteAmount: entry.QuoteAmount,
		FilledAmount: entry.FilledAmount, FilledQuoteAmount: filledQuote,
		RemainingAmount: entry.RemainingAmount, RemainingQuoteAmount: entry.RemainingQuoteAmount,
		Status: status, CreatedAt: createdAt,
	}

	e.publishAsync(events.Envelope{
		Kind: events.KindOrderAccepted, Pair: cmd.Pair.String(),
		Payload: map[string]string{"order_id": u64s(entry.ID), "user_id": cmd.UserID, "status": string(status)},
	})
	if !rests {
		e.publishAsync(events.Envelope{
			Kind: events.KindOrderDone, Pair: cmd.Pair.String(),
			Payload: map[string]string{"order_id": u64s(entry.ID), "status": string(status)},
		})
	}

	return response{accepted: Accepted{Order: order, Matches: matches, ResidualStatus: status}}
}

func (e *Engine) handleCancel(pl *pairLoop, cmd CancelOrder) response {
	if pl.halted {
		return response{err: pl.haltErr}
	}

	entry, ok := pl.resting[cmd.OrderID]
	if !ok {
		return response{err: errs.New(errs.NotFound, "engine: order not found")}
	}
	if entry.UserID != cmd.UserID {
		return response{err: errs.New(errs.Forbidden, "engine: order belongs to another user")}
	}

	pl.book.SideFor(entry.Side).Remove(entry.ID, entry.Price)
	delete(pl.resting, cmd.OrderID)

	var asset balance.Asset
	var amount decimal.Decimal
	if entry.Side == Buy {
		asset = balance.Asset(cmd.Pair.Quote)
		amount = entry.Price.Mul(entry.RemainingAmount)
	} else {
		asset = balance.Asset(cmd.Pair.Base)
		amount = entry.RemainingAmount
	}
	if amount.IsPositive() {
		if err := e.balances.Unlock(entry.UserID, asset, amount); err != nil {
			pl.halted = true
			pl.haltErr = errs.Wrap(err, errs.InsufficientLocked, "engine: settlement invariant breach on cancel, pair halted")
			return response{err: pl.haltErr}
		}
	}

	e.publishAsync(events.Envelope{
		Kind: events.KindOrderCancelled, Pair: cmd.Pair.String(),
		Payload: map[string]string{"order_id": u64s(entry.ID), "user_id": entry.UserID},
	})

	return response{}
}

func (e *Engine) publishAsync(env events.Envelope) {
	env.SchemaVersion = events.SchemaVersion
	env.EngineInstance = e.instanceID
	topic := events.Topic(env.Kind, env.Pair)
	env.Offset = e.offsets.Next(topic)

	submitErr := e.pool.Submit(func() {
		_, err := e.breaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return nil, e.publisher.Publish(ctx, env)
		})
		if err != nil {
			e.logger.Warn("event publish failed", zap.String("topic", topic), zap.Uint64("offset", env.Offset), zap.Error(err))
		}
	})
	if submitErr != nil {
		e.logger.Warn("event publish dropped: worker pool saturated", zap.String("topic", topic), zap.Error(submitErr))
	}
}

func u64s(v uint64) string {
	return strconv.FormatUint(v, 10)
}
