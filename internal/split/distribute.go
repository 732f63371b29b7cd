package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/mintlake/orderflow/internal/cache/redis"
	"github.com/mintlake/orderflow/internal/crypto"
	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/onchain"
)

const (
	// distributionLockTTL bounds one distribution attempt per split.
	distributionLockTTL = 5 * time.Minute

	// distributeGasLimit is a conservative cap for the multicall.
	distributeGasLimit = 1_200_000
)

// defaultThresholdUSD is the minimum accrued value before a split is worth
// deploying and distributing.
var defaultThresholdUSD = decimal.NewFromInt(100)

// splitMainABI is the split main contract surface the distributor drives.
const splitMainABI = `[
	{"type":"function","name":"createSplit","inputs":[{"name":"recipients","type":"address[]"},{"name":"shares","type":"uint32[]"}],"outputs":[{"name":"split","type":"address"}]},
	{"type":"function","name":"distributeETH","inputs":[{"name":"split","type":"address"}],"outputs":[]},
	{"type":"function","name":"distributeERC20","inputs":[{"name":"split","type":"address"},{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"withdraw","inputs":[{"name":"account","type":"address"},{"name":"withdrawETH","type":"uint256"},{"name":"tokens","type":"address[]"}],"outputs":[]},
	{"type":"function","name":"multicall","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]}
]`

// DistributorConfig carries the distribution job parameters.
type DistributorConfig struct {
	// SplitMain is the split main contract the multicall is sent to.
	SplitMain string
	// ThresholdUSD overrides the minimum accrued value; zero keeps the
	// default of 100 USD.
	ThresholdUSD decimal.Decimal
	Interval     time.Duration
}

// Distributor deploys and distributes payment splits once their accrued
// balance crosses the USD threshold. At most one distribution runs per split
// at a time, enforced by a distributed lock.
type Distributor struct {
	cfg      DistributorConfig
	store    domain.PaymentSplitStore
	locks    domain.LockManager
	oracle   domain.PriceOracle
	provider *onchain.Provider
	wallet   *crypto.Wallet
	events   domain.EventBus
	splitABI abi.ABI
	logger   *slog.Logger
}

// NewDistributor creates a Distributor.
func NewDistributor(cfg DistributorConfig, store domain.PaymentSplitStore, locks domain.LockManager, oracle domain.PriceOracle, provider *onchain.Provider, wallet *crypto.Wallet, events domain.EventBus, logger *slog.Logger) (*Distributor, error) {
	parsed, err := abi.JSON(strings.NewReader(splitMainABI))
	if err != nil {
		return nil, fmt.Errorf("split: parse abi: %w", err)
	}
	if cfg.ThresholdUSD.IsZero() {
		cfg.ThresholdUSD = defaultThresholdUSD
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Distributor{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		oracle:   oracle,
		provider: provider,
		wallet:   wallet,
		events:   events,
		splitABI: parsed,
		logger:   logger.With("component", "split_distributor"),
	}, nil
}

// Run sweeps all splits on a repeating interval until the context is
// cancelled.
func (d *Distributor) Run(ctx context.Context) error {
	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("distribution sweep failed", "error", err)
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("split distributor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("distribution sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps every known split once.
func (d *Distributor) RunOnce(ctx context.Context) error {
	splits, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("split: list: %w", err)
	}

	for _, sp := range splits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.distributeOne(ctx, sp.Address); err != nil {
			d.logger.Error("split distribution failed", "split", sp.Address, "error", err)
		}
	}
	return nil
}

func (d *Distributor) distributeOne(ctx context.Context, address string) error {
	unlock, err := d.locks.Acquire(ctx, "split:"+address, distributionLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		// Another instance is already on it.
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	sp, err := d.store.Get(ctx, address)
	if err != nil {
		return err
	}

	balances, totalUSD, err := d.refreshBalances(ctx, address)
	if err != nil {
		return err
	}
	if totalUSD.LessThan(d.cfg.ThresholdUSD) {
		return nil
	}

	calls, err := d.buildCalls(sp, balances)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		return nil
	}

	txHash, err := d.submitMulticall(ctx, calls)
	if err != nil {
		return err
	}

	if !sp.IsDeployed {
		if err := d.store.SetDeployed(ctx, address); err != nil {
			return err
		}
	}

	d.logger.Info("split distributed",
		"split", address, "usd", totalUSD.StringFixed(2), "tx", txHash)

	payload := []byte(fmt.Sprintf(`{"kind":"split-distributed","split":%q,"tx":%q}`, address, txHash))
	if err := d.events.Publish(ctx, redis.StreamSplitEvents, payload); err != nil {
		d.logger.Error("split event publish failed", "split", address, "error", err)
	}
	return nil
}

// refreshBalances reads the split's live native and ERC-20 balances, records
// them, and values the total in USD at the current time.
func (d *Distributor) refreshBalances(ctx context.Context, address string) (map[string]*big.Int, decimal.Decimal, error) {
	currencies, err := d.store.Currencies(ctx, address)
	if err != nil {
		return nil, decimal.Zero, err
	}

	seen := map[string]bool{domain.ZeroAddress: true}
	for _, c := range currencies {
		seen[strings.ToLower(c)] = true
	}

	now := time.Now().Unix()
	balances := make(map[string]*big.Int, len(seen))
	totalUSD := decimal.Zero
	for currency := range seen {
		var balance *big.Int
		if currency == domain.ZeroAddress {
			balance, err = d.provider.GetBalance(ctx, address)
		} else {
			balance, err = d.provider.ERC20Balance(ctx, currency, address)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if balance.Sign() == 0 {
			continue
		}
		balances[currency] = balance

		if err := d.store.UpdateBalance(ctx, address, currency, balance); err != nil {
			return nil, decimal.Zero, err
		}

		quote, err := d.oracle.Quote(ctx, currency, balance, now)
		if err != nil {
			// An unpriceable currency still distributes; it just does not
			// count toward the threshold.
			d.logger.Warn("split balance not priceable", "split", address, "currency", currency, "error", err)
			continue
		}
		totalUSD = totalUSD.Add(quote.USDAmount)
	}
	return balances, totalUSD, nil
}

// buildCalls assembles the deploy-then-distribute-then-withdraw subcalls.
func (d *Distributor) buildCalls(sp domain.PaymentSplit, balances map[string]*big.Int) ([][]byte, error) {
	recipients := make([]common.Address, len(sp.Fees))
	shares := make([]uint32, len(sp.Fees))
	for i, f := range sp.Fees {
		recipients[i] = common.HexToAddress(f.Recipient)
		shares[i] = uint32(f.Bps)
	}

	var calls [][]byte
	if !sp.IsDeployed {
		data, err := d.splitABI.Pack("createSplit", recipients, shares)
		if err != nil {
			return nil, fmt.Errorf("split: pack createSplit: %w", err)
		}
		calls = append(calls, data)
	}

	splitAddr := common.HexToAddress(sp.Address)
	hasNative := false
	var tokens []common.Address
	for currency := range balances {
		if currency == domain.ZeroAddress {
			hasNative = true
			data, err := d.splitABI.Pack("distributeETH", splitAddr)
			if err != nil {
				return nil, fmt.Errorf("split: pack distributeETH: %w", err)
			}
			calls = append(calls, data)
			continue
		}

		token := common.HexToAddress(currency)
		tokens = append(tokens, token)
		data, err := d.splitABI.Pack("distributeERC20", splitAddr, token)
		if err != nil {
			return nil, fmt.Errorf("split: pack distributeERC20: %w", err)
		}
		calls = append(calls, data)
	}
	if !hasNative && len(tokens) == 0 {
		return nil, nil
	}

	withdrawETH := big.NewInt(0)
	if hasNative {
		withdrawETH = big.NewInt(1)
	}
	for _, recipient := range recipients {
		data, err := d.splitABI.Pack("withdraw", recipient, withdrawETH, tokens)
		if err != nil {
			return nil, fmt.Errorf("split: pack withdraw: %w", err)
		}
		calls = append(calls, data)
	}
	return calls, nil
}

func (d *Distributor) submitMulticall(ctx context.Context, calls [][]byte) (string, error) {
	data, err := d.splitABI.Pack("multicall", calls)
	if err != nil {
		return "", fmt.Errorf("split: pack multicall: %w", err)
	}

	eth := d.provider.Eth()
	from := d.wallet.Address()

	nonce, err := eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("split: pending nonce: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("split: suggest gas price: %w", err)
	}

	to := common.HexToAddress(d.cfg.SplitMain)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      distributeGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := d.wallet.SignTx(tx)
	if err != nil {
		return "", err
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("split: send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}
