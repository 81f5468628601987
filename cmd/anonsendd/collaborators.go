package main

import (
	"fmt"

	"github.com/anonsend/inode/internal/driver"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/internal/p2p"
	"github.com/anonsend/inode/pkg/logging"
)

// The wallet (key storage, coin selection) and the chain backend are the
// external collaborators of §6 that stay out of scope for this daemon
// (SPEC_FULL.md Non-goals): noWallet and noChain
// below satisfy the driver.DenominationWallet, p2p.Chain, and
// driver.ChainStatus interfaces without implementing real key custody or a
// live chain backend. A deployment wiring a real wallet/backend replaces
// these two values at construction time; nothing else in the daemon needs
// to change.

// noWallet implements driver.DenominationWallet by refusing every
// mutating operation and reporting zero balances, so a driver built around
// it simply never has anything to auto-denominate or sign.
type noWallet struct {
	log *logging.Logger
}

func (w *noWallet) IsDenominated(value int64) bool { return false }

func (w *noWallet) SelectCoinsByDenominations(mask uint8, min, max int64) ([]mixing.Outpoint, int64, error) {
	return nil, 0, fmt.Errorf("wallet: coin selection not configured")
}

func (w *noWallet) HasCollateralInputs() bool { return false }

func (w *noWallet) CreateCollateralTransaction() (*mixing.CollateralTx, error) {
	return nil, fmt.Errorf("wallet: no key material configured for collateral creation")
}

func (w *noWallet) Unlock(op mixing.Outpoint)      {}
func (w *noWallet) IsMine(op mixing.Outpoint) bool { return false }

func (w *noWallet) SignInput(tx *mixing.JointTx, idx int, scriptPubKey []byte, hashType uint32) ([]byte, error) {
	return nil, fmt.Errorf("wallet: no key material configured for signing")
}

func (w *noWallet) AnonymizedBalance() int64    { return 0 }
func (w *noWallet) NonAnonymizedBalance() int64 { return 0 }
func (w *noWallet) IsLocked() bool              { return true }

func (w *noWallet) HasCollateralSizedUnspent() bool { return false }
func (w *noWallet) MakeCollateralAmounts() error {
	return fmt.Errorf("wallet: coin selection not configured")
}
func (w *noWallet) SelectCoinsByRounds(maxRounds int) ([]mixing.Outpoint, int64, error) {
	return nil, 0, fmt.Errorf("wallet: coin selection not configured")
}
func (w *noWallet) CreateDenominated(needsAnon int64) error {
	return fmt.Errorf("wallet: coin selection not configured")
}
func (w *noWallet) AvailableDenomMask() uint8 { return 0 }

var (
	_ driver.Wallet             = (*noWallet)(nil)
	_ driver.DenominationWallet = (*noWallet)(nil)
)

// noChain implements p2p.Chain and driver.ChainStatus: it reports
// unresolvable inputs and perpetual IBD, which keeps entry validation and
// auto-denomination from ever admitting real state without a live chain
// backend. A real deployment supplies a backend keyed off internal/chain's
// network parameters (e.g. an electrum/esplora client).
type noChain struct {
	log *logging.Logger
}

func (c *noChain) ResolveInputValue(op mixing.Outpoint) (int64, bool) { return 0, false }

func (c *noChain) MempoolAccepts(inputs []mixing.Outpoint, outputs []mixing.TxOut) bool {
	return false
}

func (c *noChain) SubmitTx(raw []byte) error {
	return fmt.Errorf("chain: no backend configured to broadcast transactions")
}

func (c *noChain) IsInitialBlockDownload() bool { return true }
func (c *noChain) BlockHeight() int64           { return 0 }

var (
	_ p2p.Chain             = (*noChain)(nil)
	_ driver.ChainStatus    = (*noChain)(nil)
	_ mixing.InputResolver  = (*noChain)(nil)
)

// noCollateralBroadcaster implements mixing.CollateralBroadcaster: it logs
// rather than submits, since collateral broadcasting is itself a chain
// operation and no chain backend is wired by default.
type noCollateralBroadcaster struct {
	log *logging.Logger
}

func (b *noCollateralBroadcaster) BroadcastCollateral(tx *mixing.CollateralTx) {
	b.log.Warnf("scheduler: would broadcast collateral (no chain backend configured)")
}

var _ mixing.CollateralBroadcaster = (*noCollateralBroadcaster)(nil)
