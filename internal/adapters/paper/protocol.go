package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"defiLoopBot/internal/ports"
)

// Client is a deterministic in-memory simulation of the lending protocols
// and the swap aggregator. It lets the engine run end-to-end with full
// accounting parity but without live protocol credentials. It implements
// ports.ProtocolClient and ports.SwapClient.
type Client struct {
	cfg    Config
	logger ports.Logger

	mu       sync.Mutex
	borrowed map[string]float64 // Outstanding debt per protocol
	lent     map[string]float64 // Deposited funds per protocol
}

// Config holds configuration for the paper protocol client.
type Config struct {
	Logger ports.Logger
	// SlippageBps is applied to every swap: value received = value in * (1 - bps/10000).
	SlippageBps int
	// BorrowLiquidityUSD caps total outstanding debt per protocol. Protocols
	// without an entry have unlimited liquidity.
	BorrowLiquidityUSD map[string]float64
}

// New creates a new paper protocol client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper protocol client")
	}
	if cfg.SlippageBps < 0 || cfg.SlippageBps >= 10000 {
		return nil, fmt.Errorf("slippage must be in [0, 10000) bps, got %d", cfg.SlippageBps)
	}
	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		borrowed: make(map[string]float64),
		lent:     make(map[string]float64),
	}, nil
}

// Borrow simulates taking out amountUSD of stables against collateral.
func (c *Client) Borrow(ctx context.Context, amountUSD float64, collateralAsset, protocol string, slippageBps int) (ports.CallResult, error) {
	if amountUSD <= 0 {
		return ports.CallResult{Status: ports.CallProtocolError, Reason: "non-positive borrow amount"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cap, ok := c.cfg.BorrowLiquidityUSD[protocol]; ok && c.borrowed[protocol]+amountUSD > cap {
		c.logger.Debug(ctx, "Paper borrow hit liquidity cap", map[string]interface{}{
			"protocol":  protocol,
			"amountUSD": amountUSD,
			"capUSD":    cap,
		})
		return ports.CallResult{
			Status: ports.CallInsufficientLiquidity,
			Reason: fmt.Sprintf("pool liquidity cap %.2f reached", cap),
		}, nil
	}

	c.borrowed[protocol] += amountUSD
	txID := newTxID()
	c.logger.Debug(ctx, "Paper borrow executed", map[string]interface{}{
		"protocol":   protocol,
		"collateral": collateralAsset,
		"amountUSD":  amountUSD,
		"txID":       txID,
	})
	return ports.CallResult{Status: ports.CallOK, TxID: txID}, nil
}

// Lend simulates depositing amountUSD of asset to earn yield.
func (c *Client) Lend(ctx context.Context, amountUSD float64, asset, protocol string) (ports.CallResult, error) {
	if amountUSD <= 0 {
		return ports.CallResult{Status: ports.CallProtocolError, Reason: "non-positive lend amount"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lent[protocol] += amountUSD
	return ports.CallResult{Status: ports.CallOK, TxID: newTxID()}, nil
}

// Repay simulates paying back outstanding debt.
func (c *Client) Repay(ctx context.Context, amountUSD float64, protocol string) (ports.CallResult, error) {
	if amountUSD <= 0 {
		return ports.CallResult{Status: ports.CallProtocolError, Reason: "non-positive repay amount"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.borrowed[protocol] -= amountUSD
	if c.borrowed[protocol] < 0 {
		c.borrowed[protocol] = 0
	}
	return ports.CallResult{Status: ports.CallOK, TxID: newTxID()}, nil
}

// Withdraw simulates pulling previously lent funds.
func (c *Client) Withdraw(ctx context.Context, amountUSD float64, protocol string) (ports.CallResult, error) {
	if amountUSD <= 0 {
		return ports.CallResult{Status: ports.CallProtocolError, Reason: "non-positive withdraw amount"}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Balances are only tracked within this process. For funds lent before a
	// restart the durable store is authoritative, so untracked protocols are
	// not rejected.
	const epsilon = 1e-9
	lent, tracked := c.lent[protocol]
	if tracked {
		if lent+epsilon < amountUSD {
			return ports.CallResult{
				Status: ports.CallProtocolError,
				Reason: fmt.Sprintf("lent balance %.2f below requested %.2f", lent, amountUSD),
			}, nil
		}
		c.lent[protocol] = lent - amountUSD
	}
	return ports.CallResult{Status: ports.CallOK, TxID: newTxID()}, nil
}

// SwapToCollateral simulates swapping stables into the target collateral
// asset, applying the configured slippage.
func (c *Client) SwapToCollateral(ctx context.Context, usdAmount float64, targetAsset string) (float64, error) {
	if usdAmount <= 0 {
		return 0, fmt.Errorf("non-positive swap amount %.2f: %w", usdAmount, ports.ErrSwapFailed)
	}

	received := usdAmount * (1 - float64(c.cfg.SlippageBps)/10000)
	c.logger.Debug(ctx, "Paper swap executed", map[string]interface{}{
		"targetAsset": targetAsset,
		"inUSD":       usdAmount,
		"outUSD":      received,
	})
	return received, nil
}

// BorrowedUSD reports the simulated outstanding debt on a protocol.
func (c *Client) BorrowedUSD(protocol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.borrowed[protocol]
}

// LentUSD reports the simulated deposited funds on a protocol.
func (c *Client) LentUSD(protocol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lent[protocol]
}

func newTxID() string {
	return "paper-" + uuid.NewString()
}
