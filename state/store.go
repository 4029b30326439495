// Package state persists campaigns, positions and accounts in a key-value
// database. It backs both the campaign engine's state interface and the
// ledger's account store.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/mart1n-xyz/gobetme/core/types"
	"github.com/mart1n-xyz/gobetme/native/campaign"
	"github.com/mart1n-xyz/gobetme/storage"
)

// Key prefixes keep the record families apart in the flat keyspace.
const (
	prefixCampaign byte = 0x01
	prefixPosition byte = 0x02
	prefixAccount  byte = 0x03
)

var keyCampaignIndex = []byte{0x00, 'c', 'i', 'd', 'x'}

// Store reads and writes engine records through a storage.Database.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func campaignKey(id [32]byte) []byte {
	return append([]byte{prefixCampaign}, id[:]...)
}

func positionKey(id [32]byte, participant [20]byte) []byte {
	key := append([]byte{prefixPosition}, id[:]...)
	return append(key, participant[:]...)
}

func accountKey(addr [20]byte) []byte {
	return append([]byte{prefixAccount}, addr[:]...)
}

// CampaignGet loads a campaign by identifier.
func (s *Store) CampaignGet(id [32]byte) (*campaign.Campaign, bool, error) {
	raw, err := s.db.Get(campaignKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var c campaign.Campaign
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, fmt.Errorf("state: decode campaign: %w", err)
	}
	return &c, true, nil
}

// CampaignPut stores a campaign and keeps the identifier index current.
func (s *Store) CampaignPut(c *campaign.Campaign) error {
	if c == nil {
		return fmt.Errorf("state: nil campaign")
	}
	known, err := s.db.Has(campaignKey(c.ID))
	if err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("state: encode campaign: %w", err)
	}
	if err := s.db.Put(campaignKey(c.ID), raw); err != nil {
		return err
	}
	if known {
		return nil
	}
	index, err := s.CampaignList()
	if err != nil {
		return err
	}
	index = append(index, c.ID)
	rawIndex, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("state: encode campaign index: %w", err)
	}
	return s.db.Put(keyCampaignIndex, rawIndex)
}

// CampaignList returns all stored campaign identifiers in insertion order.
func (s *Store) CampaignList() ([][32]byte, error) {
	raw, err := s.db.Get(keyCampaignIndex)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index [][32]byte
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("state: decode campaign index: %w", err)
	}
	return index, nil
}

// PositionGet loads a participant position for a campaign.
func (s *Store) PositionGet(id [32]byte, participant [20]byte) (*campaign.Position, bool, error) {
	raw, err := s.db.Get(positionKey(id, participant))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p campaign.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("state: decode position: %w", err)
	}
	return &p, true, nil
}

// PositionPut stores a participant position.
func (s *Store) PositionPut(p *campaign.Position) error {
	if p == nil {
		return fmt.Errorf("state: nil position")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("state: encode position: %w", err)
	}
	return s.db.Put(positionKey(p.Campaign, p.Participant), raw)
}

// GetAccount loads an account; unknown addresses read as zero-balance
// accounts.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return &acc, nil
}

// PutAccount stores an account.
func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return s.db.Delete(accountKey(addr))
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return s.db.Put(accountKey(addr), raw)
}
