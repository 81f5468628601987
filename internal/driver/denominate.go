package driver

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/mixing"
)

// ErrDenominateSkipped is returned by MaintainDenominations when the pass
// was a deliberate no-op (§4.6 step 1-2 gates), not a failure.
var ErrDenominateSkipped = errors.New("auto-denominate: skipped")

// ChainStatus is the chain external-collaborator interface auto-denomination
// needs to gate on sync state and block spacing (§4.6 step 1, §6
// MIN_BLOCK_SPACING).
type ChainStatus interface {
	IsInitialBlockDownload() bool
	BlockHeight() int64
}

// DenominationWallet extends Wallet with the coin-minting operations
// auto-denomination drives (§4.6 steps 2-4): creating collateral-sized
// outputs, minting new denominated outputs, and reporting which
// denominations the wallet currently holds.
type DenominationWallet interface {
	Wallet
	HasCollateralSizedUnspent() bool
	MakeCollateralAmounts() error
	SelectCoinsByRounds(maxRounds int) (coins []mixing.Outpoint, total int64, err error)
	CreateDenominated(needsAnon int64) error
	AvailableDenomMask() uint8
}

// AutoDenomConfig carries the §6 config keys auto-denomination reads.
type AutoDenomConfig struct {
	TargetAnonAmount  int64
	LiquidityProvider int  // 0..100, scales the tick interval (§4.6)
	DryRun            bool // when true, skip the wallet-lock gate
}

// AutoDenomInterval implements "Periodically (~1 min, scaled by a
// liquidity-provider factor)" (§4.6). A higher liquidity-provider factor
// runs the loop more often, down to a 5s floor; 0 (the default, a normal
// wallet that is not acting as a liquidity provider) uses the base period.
func AutoDenomInterval(liquidityProvider int) time.Duration {
	const base = 60 * time.Second
	if liquidityProvider <= 0 {
		return base
	}
	scaled := base / time.Duration(1+liquidityProvider/10)
	if scaled < 5*time.Second {
		scaled = 5 * time.Second
	}
	return scaled
}

// MaintainDenominations runs one pass of §4.6 steps 1-5: gate on sync/lock/
// block-spacing state, compute needs_anon, top up collateral and
// denominated outputs as needed, then hand off to SelectAndSubmit (step 5).
// Returns ErrDenominateSkipped (wrapped with the reason) when a gate fires
// rather than an error condition.
func (d *Driver) MaintainDenominations(chain ChainStatus, dw DenominationWallet, cfg AutoDenomConfig, rng *rand.Rand) error {
	if chain.IsInitialBlockDownload() {
		return fmt.Errorf("%w: chain sync in progress", ErrDenominateSkipped)
	}
	if !cfg.DryRun && dw.IsLocked() {
		return fmt.Errorf("%w: wallet locked", ErrDenominateSkipped)
	}

	height := chain.BlockHeight()
	d.mu.Lock()
	lastHeight := d.lastDenomHeight
	d.mu.Unlock()
	if lastHeight > 0 && height-lastHeight < config.MinBlockSpacing {
		return fmt.Errorf("%w: min block spacing not met", ErrDenominateSkipped)
	}

	needsAnon := cfg.TargetAnonAmount - dw.AnonymizedBalance()
	if needsAnon > config.PoolMax {
		needsAnon = config.PoolMax
	}
	if nonAnon := dw.NonAnonymizedBalance(); needsAnon > nonAnon {
		needsAnon = nonAnon
	}
	if needsAnon < config.AnonFee+5*d.minDenom() {
		return fmt.Errorf("%w: needs_anon below floor", ErrDenominateSkipped)
	}

	if !dw.HasCollateralSizedUnspent() {
		if err := dw.MakeCollateralAmounts(); err != nil {
			return fmt.Errorf("make_collateral_amounts: %w", err)
		}
	}

	coins, _, err := dw.SelectCoinsByRounds(config.MaxRounds)
	if err != nil {
		return fmt.Errorf("select coins by rounds: %w", err)
	}
	if len(coins) == 0 {
		if err := dw.CreateDenominated(needsAnon); err != nil {
			return fmt.Errorf("create_denominated: %w", err)
		}
	}

	denomMask := dw.AvailableDenomMask()
	if denomMask == 0 {
		return fmt.Errorf("%w: no denominated outputs available after minting", ErrDenominateSkipped)
	}

	if err := d.SelectAndSubmit(denomMask, rng); err != nil {
		return fmt.Errorf("select_inode: %w", err)
	}

	d.mu.Lock()
	d.lastDenomHeight = height
	d.mu.Unlock()
	return nil
}

// minDenom returns the smallest value on the configured denomination
// ladder, used by the needs_anon floor check of §4.6 step 2.
func (d *Driver) minDenom() int64 {
	if len(d.ladder) == 0 {
		return 0
	}
	min := d.ladder[0]
	for _, v := range d.ladder {
		if v < min {
			min = v
		}
	}
	return min
}

// RunAutoDenominate ticks MaintainDenominations on the schedule of
// AutoDenomInterval until stop is closed, logging (rather than propagating)
// per-tick errors, matching §5's "driver never spins; all waiting is
// bounded by the tick" discipline. It does not check whether the node is an
// INODE itself; callers gate that via cfg wiring (§4.6: "while not the
// INODE").
func (d *Driver) RunAutoDenominate(chain ChainStatus, dw DenominationWallet, cfg AutoDenomConfig, stop <-chan struct{}) {
	interval := AutoDenomInterval(cfg.LiquidityProvider)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := d.MaintainDenominations(chain, dw, cfg, rng); err != nil {
				if errors.Is(err, ErrDenominateSkipped) {
					d.log.Debugf("auto-denominate: %v", err)
				} else {
					d.log.Warnf("auto-denominate: %v", err)
				}
			}
		}
	}
}
