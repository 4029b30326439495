package campaign

import (
	"fmt"
	"math/big"
	"strings"
)

// BetSide identifies which outcome a bet backs: YES wagers that the campaign
// reaches its target by the deadline, NO wagers that it falls short.
type BetSide uint8

const (
	BetYes BetSide = iota
	BetNo
)

// Valid reports whether the side value is within the supported range.
func (s BetSide) Valid() bool {
	switch s {
	case BetYes, BetNo:
		return true
	default:
		return false
	}
}

// String returns the canonical label used in events and RPC payloads.
func (s BetSide) String() string {
	switch s {
	case BetYes:
		return "yes"
	case BetNo:
		return "no"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseBetSide converts an external label into a BetSide.
func ParseBetSide(label string) (BetSide, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "yes":
		return BetYes, nil
	case "no":
		return BetNo, nil
	default:
		return 0, fmt.Errorf("unsupported bet side: %s", label)
	}
}

// Campaign captures the immutable parameters fixed at creation together with
// the mutable aggregate ledger and lifecycle flags of a single campaign. The
// identifier is the keccak256 hash of the owner, cause and a caller-supplied
// nonce, ensuring deterministic IDs without storing the nonce.
type Campaign struct {
	ID        [32]byte `json:"id"`
	Owner     [20]byte `json:"owner"`
	Token     string   `json:"token"`
	Cause     string   `json:"cause"`
	Target    *big.Int `json:"target"`
	Deadline  int64    `json:"deadline"`
	CreatedAt int64    `json:"createdAt"`

	TotalDonated *big.Int `json:"totalDonated"`
	TotalYesBets *big.Int `json:"totalYesBets"`
	TotalNoBets  *big.Int `json:"totalNoBets"`

	BettingStopped bool `json:"bettingStopped"`
	Settled        bool `json:"settled"`
	TargetReached  bool `json:"targetReached"`
	YesWon         bool `json:"yesWon"`
}

// Clone returns a deep copy of the campaign so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Target = cloneBigInt(c.Target)
	clone.TotalDonated = cloneBigInt(c.TotalDonated)
	clone.TotalYesBets = cloneBigInt(c.TotalYesBets)
	clone.TotalNoBets = cloneBigInt(c.TotalNoBets)
	return &clone
}

// BetPool returns the combined outstanding yes+no stake.
func (c *Campaign) BetPool() *big.Int {
	pool := cloneBigInt(c.TotalYesBets)
	return pool.Add(pool, cloneBigInt(c.TotalNoBets))
}

// Position records one participant's raw contributions to a campaign. The
// yes/no balances are the amounts as placed; bet-to-donate conversion only
// rewrites the campaign aggregates, never these entries.
type Position struct {
	Campaign    [32]byte `json:"campaign"`
	Participant [20]byte `json:"participant"`
	Donated     *big.Int `json:"donated"`
	YesBet      *big.Int `json:"yesBet"`
	NoBet       *big.Int `json:"noBet"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Donated = cloneBigInt(p.Donated)
	clone.YesBet = cloneBigInt(p.YesBet)
	clone.NoBet = cloneBigInt(p.NoBet)
	return &clone
}

// NormalizeToken canonicalises a token symbol to its uppercase form and
// rejects empty or oversized symbols.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("campaign token symbol required")
	}
	if len(trimmed) > 8 {
		return "", fmt.Errorf("campaign token symbol too long: %s", trimmed)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("campaign token symbol must be alphanumeric: %s", trimmed)
		}
	}
	return trimmed, nil
}

// SanitizeCampaign validates and normalises the supplied campaign definition,
// returning a cloned instance with canonical token casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeCampaign(c *Campaign) (*Campaign, error) {
	if c == nil {
		return nil, fmt.Errorf("nil campaign")
	}
	clone := c.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	clone.Cause = strings.TrimSpace(clone.Cause)
	if clone.Cause == "" {
		return nil, fmt.Errorf("campaign cause required")
	}
	if clone.Target == nil || clone.Target.Sign() <= 0 {
		return nil, fmt.Errorf("campaign target must be positive")
	}
	if clone.TotalDonated.Sign() < 0 || clone.TotalYesBets.Sign() < 0 || clone.TotalNoBets.Sign() < 0 {
		return nil, fmt.Errorf("campaign aggregates must be non-negative")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
