// Package ledger implements the asset-movement port consumed by the campaign
// engine: deposits pull funds from a participant account into a per-campaign
// custody vault, payouts move them back out. Every movement is checked and
// fails without effect when a balance cannot cover it.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mart1n-xyz/gobetme/core/types"
)

var (
	errNilState = errors.New("ledger: account state not configured")
	// ErrInvalidAmount rejects nil, zero or negative movements.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientFunds is returned when a participant balance cannot
	// cover a deposit.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrVaultUnderfunded is returned when a payout exceeds campaign custody.
	ErrVaultUnderfunded = errors.New("ledger: campaign vault underfunded")
)

var vaultSalt = []byte("gobetme/vault/v1")

type accountState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Vault moves balances between participant accounts and campaign custody
// accounts derived deterministically from campaign identifiers.
type Vault struct {
	state accountState
}

// NewVault constructs a vault over the supplied account state.
func NewVault(state accountState) *Vault {
	return &Vault{state: state}
}

// VaultAddress derives the custody account address for a campaign.
func VaultAddress(campaignID [32]byte) [20]byte {
	digest := ethcrypto.Keccak256(vaultSalt, campaignID[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

func (v *Vault) account(addr [20]byte) (*types.Account, error) {
	acc, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// DepositFrom debits the participant and credits campaign custody.
func (v *Vault) DepositFrom(participant [20]byte, campaignID [32]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	from, err := v.account(participant)
	if err != nil {
		return err
	}
	if from.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, from.Balance, amount)
	}
	vaultAddr := VaultAddress(campaignID)
	custody, err := v.account(vaultAddr)
	if err != nil {
		return err
	}
	from.Balance = new(big.Int).Sub(from.Balance, amount)
	custody.Balance = new(big.Int).Add(custody.Balance, amount)
	if err := v.state.PutAccount(participant, from); err != nil {
		return err
	}
	return v.state.PutAccount(vaultAddr, custody)
}

// PayTo debits campaign custody and credits the recipient.
func (v *Vault) PayTo(recipient [20]byte, campaignID [32]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vaultAddr := VaultAddress(campaignID)
	custody, err := v.account(vaultAddr)
	if err != nil {
		return err
	}
	if custody.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrVaultUnderfunded, custody.Balance, amount)
	}
	to, err := v.account(recipient)
	if err != nil {
		return err
	}
	custody.Balance = new(big.Int).Sub(custody.Balance, amount)
	to.Balance = new(big.Int).Add(to.Balance, amount)
	if err := v.state.PutAccount(vaultAddr, custody); err != nil {
		return err
	}
	return v.state.PutAccount(recipient, to)
}

// BalanceOf reports the campaign custody balance.
func (v *Vault) BalanceOf(campaignID [32]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	custody, err := v.account(VaultAddress(campaignID))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(custody.Balance), nil
}

// Credit adds funds to an account. It backs the administrative faucet used to
// seed participant balances.
func (v *Vault) Credit(addr [20]byte, amount *big.Int) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	acc, err := v.account(addr)
	if err != nil {
		return nil, err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	if err := v.state.PutAccount(addr, acc); err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// AccountBalance reports the spendable balance of an account.
func (v *Vault) AccountBalance(addr [20]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	acc, err := v.account(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}
