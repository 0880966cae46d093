package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/klawleybot/fleetd/internal/bundler"
	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
	"github.com/klawleybot/fleetd/internal/modules/ops"
	"github.com/klawleybot/fleetd/internal/modules/policy"
	"github.com/klawleybot/fleetd/internal/modules/positions"
	"github.com/klawleybot/fleetd/internal/observability"
)

// nativeToken is the swap-leg placeholder for the chain's native asset.
const nativeToken = "0x0000000000000000000000000000000000000000"

// momentumJiggleFactor bounds the share deviation in momentum mode.
const momentumJiggleFactor = 0.25

// Config tunes per-operation fan-out.
type Config struct {
	Concurrency         int
	StaggerDelay        time.Duration
	WalletMinBalanceWei *uint256.Int
}

// ExecOptions are per-execution choices made by the caller. Drip
// splits each wallet's buy into Intervals chunks spread over Duration.
type ExecOptions struct {
	DripIntervals int
	DripDuration  time.Duration
}

// SnapshotFunc produces a fresh policy snapshot. Taken once per
// execution so the kill switch holds at the last moment.
type SnapshotFunc func() policy.Snapshot

// Engine drives approved operations to a terminal status. Once an
// operation has moved to executing, unit failures are captured and
// aggregated; they never propagate to the caller.
type Engine struct {
	operations *ops.OperationRepository
	trades     *ops.TradeRepository
	funding    *ops.FundingRepository
	wallets    *fleet.WalletRepository
	clusters   *fleet.ClusterRepository
	positions  *positions.PositionRepository
	policy     *policy.Engine
	snapshot   SnapshotFunc
	provider   AccountProvider
	encoder    SwapEncoder
	clk        clock.Clock
	cfg        Config
	metrics    *observability.Metrics
	log        zerolog.Logger
}

// New wires the execution engine.
func New(
	operations *ops.OperationRepository,
	trades *ops.TradeRepository,
	funding *ops.FundingRepository,
	wallets *fleet.WalletRepository,
	clusters *fleet.ClusterRepository,
	posRepo *positions.PositionRepository,
	policyEngine *policy.Engine,
	snapshot SnapshotFunc,
	provider AccountProvider,
	encoder SwapEncoder,
	clk clock.Clock,
	cfg Config,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		operations: operations,
		trades:     trades,
		funding:    funding,
		wallets:    wallets,
		clusters:   clusters,
		positions:  posRepo,
		policy:     policyEngine,
		snapshot:   snapshot,
		provider:   provider,
		encoder:    encoder,
		clk:        clk,
		cfg:        cfg,
		metrics:    metrics,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// ExecuteOperation runs an approved operation with default options.
func (e *Engine) ExecuteOperation(ctx context.Context, id int64) (*domain.Operation, error) {
	return e.Execute(ctx, id, ExecOptions{})
}

// Execute runs an approved operation to a terminal status. Failures
// before the executing transition (unknown operation, wrong status,
// policy re-reject) surface to the caller; after it, per-unit failures
// land in the operation result instead.
func (e *Engine) Execute(ctx context.Context, id int64, opts ExecOptions) (*domain.Operation, error) {
	op, err := e.operations.GetByID(id)
	if err != nil {
		return nil, err
	}

	// Status gates before policy: a pending operation that would also
	// fail policy still reports the state problem, not the policy one.
	if op.Status != domain.StatusApproved {
		return nil, domain.NewError(domain.KindStateConflict,
			"operation %d is %s, not approved", id, op.Status)
	}

	payload, err := domain.ParsePayload(op.Type, op.PayloadJSON)
	if err != nil {
		return nil, err
	}

	members, err := e.clusters.ListWalletDetails(op.ClusterID)
	if err != nil {
		return nil, err
	}

	intent, err := policy.IntentFromPayload(payload, len(members))
	if err != nil {
		return nil, err
	}

	// Policy holds at the execution boundary: a kill switch flipped or a
	// cooldown entered since approval still stops the operation here.
	if err := e.policy.AssertExecutionAllowed(e.snapshot(), op, intent); err != nil {
		if uerr := e.operations.UpdateStatus(id, domain.StatusFailed, err.Error()); uerr != nil {
			return nil, uerr
		}
		e.metrics.RecordOperation(string(op.Type), string(domain.StatusFailed))
		return nil, err
	}

	if err := e.operations.UpdateStatus(id, domain.StatusExecuting, ""); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("operation_id", id).
		Str("type", string(op.Type)).
		Int("wallets", len(members)).
		Msg("Executing operation")

	if len(members) == 0 {
		return e.finalize(id, nil, domain.OperationResult{}, "cluster has no member wallets")
	}

	var units []domain.UnitResult
	var result domain.OperationResult
	switch op.Type {
	case domain.OpFundingRequest:
		units = e.runFunding(ctx, members, payload.Funding)
		result.Transfers = units
	case domain.OpSupportCoin:
		units = e.runBuys(ctx, members, payload.Trade, opts)
		result.Trades = units
	case domain.OpExitCoin:
		units = e.runSells(ctx, members, payload.Trade)
		result.Trades = units
	}

	return e.finalize(id, units, result, "")
}

// finalize collapses unit outcomes into the terminal status and writes
// the result document.
func (e *Engine) finalize(id int64, units []domain.UnitResult, result domain.OperationResult, forcedError string) (*domain.Operation, error) {
	status := domain.StatusComplete
	errorMessage := forcedError
	if forcedError != "" {
		status = domain.StatusFailed
	} else if len(units) > 0 {
		failed := 0
		for _, u := range units {
			if u.Status == domain.UnitFailed {
				failed++
			}
		}
		switch {
		case failed == len(units):
			status = domain.StatusFailed
		case failed > 0:
			status = domain.StatusPartial
		}
		if failed > 0 {
			errorMessage = fmt.Sprintf("%d of %d units failed", failed, len(units))
		}
	}

	resultJSON, err := domain.EncodePayload(result)
	if err != nil {
		return nil, err
	}
	if err := e.operations.SetResult(id, status, resultJSON, errorMessage); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("operation_id", id).
		Str("status", string(status)).
		Int("units", len(units)).
		Msg("Operation finished")

	final, err := e.operations.GetByID(id)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordOperation(string(final.Type), string(final.Status))
	return final, nil
}

// sendAttempts folds the router's attempt trail into the unit result so
// a failed-over execution stays auditable from resultJson.
func sendAttempts(attempts []bundler.Attempt) []domain.SendAttempt {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]domain.SendAttempt, len(attempts))
	for i, a := range attempts {
		out[i] = domain.SendAttempt{
			Provider: a.Provider,
			OK:       a.OK,
			Category: string(a.Category),
			Error:    a.Error,
		}
	}
	return out
}

// runFunding transfers the per-wallet amount from the master wallet to
// every member below the minimum balance. Wallets already funded are
// filtered out before any unit is dispatched.
func (e *Engine) runFunding(ctx context.Context, members []domain.Wallet, payload *domain.FundingRequestPayload) []domain.UnitResult {
	amount := domain.MustParseWei(payload.AmountWei)

	master, err := e.wallets.GetMaster()
	if err != nil || master == nil {
		msg := "no master wallet configured"
		if err != nil {
			msg = err.Error()
		}
		return failAllUnits(members, msg)
	}
	masterSession, err := e.provider.GetSession(ctx, master.ProviderAccountName)
	if err != nil {
		return failAllUnits(members, "master session: "+err.Error())
	}

	targets := members
	if e.cfg.WalletMinBalanceWei != nil && !e.cfg.WalletMinBalanceWei.IsZero() {
		targets = targets[:0:0]
		for _, w := range members {
			session, err := e.provider.GetSession(ctx, w.ProviderAccountName)
			if err != nil {
				targets = append(targets, w)
				continue
			}
			balance, err := session.Balance(ctx)
			if err == nil && !balance.Lt(e.cfg.WalletMinBalanceWei) {
				e.log.Debug().
					Int64("wallet_id", w.ID).
					Str("balance", balance.Dec()).
					Msg("Wallet already funded, skipping")
				continue
			}
			targets = append(targets, w)
		}
	}

	results := make([]domain.UnitResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, w := range targets {
		i, w := i, w
		g.Go(func() error {
			results[i] = e.fundOne(gctx, masterSession, w, amount)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) fundOne(ctx context.Context, master AccountSession, w domain.Wallet, amount *uint256.Int) domain.UnitResult {
	unit := domain.UnitResult{WalletID: w.ID, AmountIn: amount.Dec()}

	call := bundler.Call{To: w.Address, Data: "0x", Value: amount.Dec()}
	send, attempts, err := master.SendUserOp(ctx, []bundler.Call{call})
	unit.Attempts = sendAttempts(attempts)
	if err != nil {
		return e.recordFunding(w, amount, unit, "", "", err.Error())
	}
	unit.UserOpHash = send.UserOpHash

	receipt, err := master.WaitReceipt(ctx, send.UserOpHash)
	if err != nil {
		return e.recordFunding(w, amount, unit, send.UserOpHash, "", err.Error())
	}
	if !receipt.Success {
		return e.recordFunding(w, amount, unit, send.UserOpHash, receipt.TxHash, "transfer reverted: "+receipt.Reason)
	}
	return e.recordFunding(w, amount, unit, send.UserOpHash, receipt.TxHash, "")
}

func (e *Engine) recordFunding(w domain.Wallet, amount *uint256.Int, unit domain.UnitResult, userOpHash, txHash, errMsg string) domain.UnitResult {
	unit.UserOpHash = userOpHash
	unit.TxHash = txHash
	unit.Status = domain.UnitComplete
	if errMsg != "" {
		unit.Status = domain.UnitFailed
		unit.Error = errMsg
	}

	if _, err := e.funding.Create(domain.FundingTx{
		WalletID:     w.ID,
		AmountWei:    amount.Dec(),
		UserOpHash:   userOpHash,
		TxHash:       txHash,
		Status:       unit.Status,
		ErrorMessage: errMsg,
	}); err != nil {
		e.log.Error().Err(err).Int64("wallet_id", w.ID).Msg("Failed to record funding row")
	}
	return unit
}

// runBuys splits the trade total across the cluster per the strategy
// mode and buys the coin from each wallet.
func (e *Engine) runBuys(ctx context.Context, members []domain.Wallet, payload *domain.TradePayload, opts ExecOptions) []domain.UnitResult {
	total := domain.MustParseWei(payload.TotalAmountWei)

	factor := 0.0
	if payload.StrategyMode == domain.StrategyMomentum {
		factor = momentumJiggleFactor
	}
	shares, err := JiggleAmounts(total, len(members), factor)
	if err != nil {
		return failAllUnits(members, "share split: "+err.Error())
	}

	results := make([]domain.UnitResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, w := range members {
		i, w := i, w
		g.Go(func() error {
			if payload.StrategyMode == domain.StrategyStaggered && i > 0 {
				if err := e.clk.Sleep(gctx, time.Duration(i)*e.cfg.StaggerDelay); err != nil {
					results[i] = domain.UnitResult{WalletID: w.ID, Status: domain.UnitFailed, Error: err.Error()}
					return nil
				}
			}
			results[i] = e.buyOne(gctx, w, payload, shares[i], opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) buyOne(ctx context.Context, w domain.Wallet, payload *domain.TradePayload, share *uint256.Int, opts ExecOptions) domain.UnitResult {
	unit := domain.UnitResult{WalletID: w.ID, AmountIn: share.Dec()}

	session, err := e.provider.GetSession(ctx, w.ProviderAccountName)
	if err != nil {
		return e.recordTrade(w, nativeToken, payload.CoinAddress, unit, nil, nil, err.Error())
	}

	chunks, interval, err := dripChunks(share, opts)
	if err != nil {
		return e.recordTrade(w, nativeToken, payload.CoinAddress, unit, nil, nil, err.Error())
	}

	spent := new(uint256.Int)
	got := new(uint256.Int)
	var errMsg string
	for n, chunk := range chunks {
		if n > 0 && interval > 0 {
			if err := e.clk.Sleep(ctx, interval); err != nil {
				errMsg = err.Error()
				break
			}
		}

		call, err := e.encoder.EncodeBuy(ctx, SwapParams{
			FromToken:   nativeToken,
			ToToken:     payload.CoinAddress,
			AmountIn:    chunk,
			SlippageBps: payload.SlippageBps,
			Recipient:   w.Address,
		})
		if err != nil {
			errMsg = "encode buy: " + err.Error()
			break
		}

		send, attempts, err := session.SendUserOp(ctx, []bundler.Call{call})
		unit.Attempts = append(unit.Attempts, sendAttempts(attempts)...)
		if err != nil {
			errMsg = err.Error()
			break
		}
		unit.UserOpHash = send.UserOpHash

		receipt, err := session.WaitReceipt(ctx, send.UserOpHash)
		if err != nil {
			errMsg = err.Error()
			break
		}
		unit.TxHash = receipt.TxHash
		if !receipt.Success {
			errMsg = "swap reverted: " + receipt.Reason
			break
		}

		amountOut, err := e.encoder.ParseAmountOut(receipt)
		if err != nil {
			errMsg = "parse amount out: " + err.Error()
			break
		}
		spent.Add(spent, chunk)
		got.Add(got, amountOut)
	}

	// The ledger reflects what actually moved, even when a later drip
	// chunk failed.
	if !spent.IsZero() {
		if _, err := e.positions.Upsert(w.ID, payload.CoinAddress, positions.Delta{
			CostWei:     spent,
			HoldingsAdd: got,
			IsBuy:       true,
		}); err != nil {
			e.log.Error().Err(err).Int64("wallet_id", w.ID).Msg("Failed to upsert position after buy")
		}
	}

	unit.AmountIn = spent.Dec()
	unit.AmountOut = got.Dec()
	if spent.IsZero() {
		unit.AmountIn = share.Dec()
		unit.AmountOut = ""
	}
	return e.recordTrade(w, nativeToken, payload.CoinAddress, unit, spent, got, errMsg)
}

// runSells exits each wallet's full recorded holdings of the coin. The
// payload total sizes the operation for policy; the ledger decides how
// much each wallet actually has to sell.
func (e *Engine) runSells(ctx context.Context, members []domain.Wallet, payload *domain.TradePayload) []domain.UnitResult {
	var results []domain.UnitResult
	resultCh := make(chan domain.UnitResult, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, w := range members {
		w := w
		g.Go(func() error {
			unit, ok := e.sellOne(gctx, w, payload)
			if ok {
				resultCh <- unit
			}
			return nil
		})
	}
	_ = g.Wait()
	close(resultCh)
	for unit := range resultCh {
		results = append(results, unit)
	}
	return results
}

// sellOne sells one wallet's holdings. ok=false means the wallet holds
// nothing and produced no unit.
func (e *Engine) sellOne(ctx context.Context, w domain.Wallet, payload *domain.TradePayload) (domain.UnitResult, bool) {
	pos, err := e.positions.Get(w.ID, payload.CoinAddress)
	if err != nil {
		unit := domain.UnitResult{WalletID: w.ID}
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, err.Error()), true
	}
	if pos == nil {
		return domain.UnitResult{}, false
	}
	holdings := domain.MustParseWei(pos.HoldingsRaw)
	if holdings.IsZero() {
		return domain.UnitResult{}, false
	}

	unit := domain.UnitResult{WalletID: w.ID, AmountIn: holdings.Dec()}

	session, err := e.provider.GetSession(ctx, w.ProviderAccountName)
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, err.Error()), true
	}

	quote, err := e.encoder.QuoteCoinToEth(ctx, payload.CoinAddress, holdings)
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, "quote: "+err.Error()), true
	}
	minOut := new(uint256.Int).Mul(quote, uint256.NewInt(uint64(10000-payload.SlippageBps)))
	minOut.Div(minOut, uint256.NewInt(10000))

	call, err := e.encoder.EncodeSell(ctx, SwapParams{
		FromToken:    payload.CoinAddress,
		ToToken:      nativeToken,
		AmountIn:     holdings,
		MinAmountOut: minOut,
		SlippageBps:  payload.SlippageBps,
		Recipient:    w.Address,
	})
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, "encode sell: "+err.Error()), true
	}

	send, attempts, err := session.SendUserOp(ctx, []bundler.Call{call})
	unit.Attempts = sendAttempts(attempts)
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, err.Error()), true
	}
	unit.UserOpHash = send.UserOpHash

	receipt, err := session.WaitReceipt(ctx, send.UserOpHash)
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, err.Error()), true
	}
	unit.TxHash = receipt.TxHash
	if !receipt.Success {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, "swap reverted: "+receipt.Reason), true
	}

	amountOut, err := e.encoder.ParseAmountOut(receipt)
	if err != nil {
		return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, nil, nil, "parse amount out: "+err.Error()), true
	}
	unit.AmountOut = amountOut.Dec()

	if _, err := e.positions.Upsert(w.ID, payload.CoinAddress, positions.Delta{
		ReceivedWei: amountOut,
		HoldingsSub: holdings,
	}); err != nil {
		e.log.Error().Err(err).Int64("wallet_id", w.ID).Msg("Failed to upsert position after sell")
	}

	return e.recordTrade(w, payload.CoinAddress, nativeToken, unit, holdings, amountOut, ""), true
}

func (e *Engine) recordTrade(w domain.Wallet, fromToken, toToken string, unit domain.UnitResult, amountIn, amountOut *uint256.Int, errMsg string) domain.UnitResult {
	unit.Status = domain.UnitComplete
	if errMsg != "" {
		unit.Status = domain.UnitFailed
		unit.Error = errMsg
	}

	rowAmountIn := unit.AmountIn
	if rowAmountIn == "" {
		rowAmountIn = "0"
	}
	trade := domain.Trade{
		WalletID:     w.ID,
		FromToken:    fromToken,
		ToToken:      toToken,
		AmountIn:     rowAmountIn,
		UserOpHash:   unit.UserOpHash,
		TxHash:       unit.TxHash,
		Status:       unit.Status,
		ErrorMessage: errMsg,
	}
	if amountOut != nil && !amountOut.IsZero() {
		trade.AmountOut = amountOut.Dec()
	}
	if _, err := e.trades.Create(trade); err != nil {
		e.log.Error().Err(err).Int64("wallet_id", w.ID).Msg("Failed to record trade row")
	}
	return unit
}

// dripChunks splits a wallet share into drip sub-amounts plus the
// interval between them. Without drip options the share goes out whole.
func dripChunks(share *uint256.Int, opts ExecOptions) ([]*uint256.Int, time.Duration, error) {
	if opts.DripIntervals <= 1 {
		return []*uint256.Int{share}, 0, nil
	}
	chunks, err := JiggleAmounts(share, opts.DripIntervals, 0)
	if err != nil {
		return nil, 0, err
	}
	return chunks, opts.DripDuration / time.Duration(opts.DripIntervals), nil
}

func failAllUnits(members []domain.Wallet, reason string) []domain.UnitResult {
	out := make([]domain.UnitResult, len(members))
	for i, w := range members {
		out[i] = domain.UnitResult{WalletID: w.ID, Status: domain.UnitFailed, Error: reason}
	}
	return out
}
