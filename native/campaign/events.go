package campaign

import (
	"encoding/hex"
	"strconv"

	"github.com/mart1n-xyz/gobetme/core/events"
	"github.com/mart1n-xyz/gobetme/core/types"
)

const (
	// EventTypeCreated is emitted when a campaign is registered.
	EventTypeCreated = "campaign.created"
	// EventTypeDonationReceived is emitted for every accepted donation.
	EventTypeDonationReceived = "campaign.donation_received"
	// EventTypeBetPlaced is emitted for every accepted bet.
	EventTypeBetPlaced = "campaign.bet_placed"
	// EventTypeBettingStopped is emitted when the betting freeze engages,
	// carrying the shortfall that conversion covered at freeze time.
	EventTypeBettingStopped = "campaign.betting_stopped"
	// EventTypeTargetReached is emitted when settlement resolves the target
	// as met.
	EventTypeTargetReached = "campaign.target_reached"
	// EventTypeTargetMissed is emitted when settlement resolves the target
	// as missed.
	EventTypeTargetMissed = "campaign.target_missed"
	// EventTypeBetsSettled is emitted once with the final aggregate totals.
	EventTypeBetsSettled = "campaign.bets_settled"
	// EventTypeSettled is emitted with the terminal settlement outcome.
	EventTypeSettled = "campaign.settled"
	// EventTypeWinningsClaimed is emitted when a participant is paid out.
	EventTypeWinningsClaimed = "campaign.winnings_claimed"
	// EventTypeFundsWithdrawn is emitted when the owner sweeps custody.
	EventTypeFundsWithdrawn = "campaign.funds_withdrawn"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func hexID(id [32]byte) string     { return hex.EncodeToString(id[:]) }
func hexAddr(addr [20]byte) string { return "0x" + hex.EncodeToString(addr[:]) }

// CreatedEvent returns the canonical payload for a newly registered campaign.
func CreatedEvent(c *Campaign) *types.Event {
	return &types.Event{
		Type: EventTypeCreated,
		Attributes: map[string]string{
			"id":       hexID(c.ID),
			"owner":    hexAddr(c.Owner),
			"token":    c.Token,
			"cause":    c.Cause,
			"target":   cloneBigInt(c.Target).String(),
			"deadline": strconv.FormatInt(c.Deadline, 10),
		},
	}
}

// DonationReceivedEvent returns the payload for an accepted donation.
func DonationReceivedEvent(id [32]byte, participant [20]byte, amount, totalDonated string) *types.Event {
	return &types.Event{
		Type: EventTypeDonationReceived,
		Attributes: map[string]string{
			"id":           hexID(id),
			"participant":  hexAddr(participant),
			"amount":       amount,
			"totalDonated": totalDonated,
		},
	}
}

// BetPlacedEvent returns the payload for an accepted bet.
func BetPlacedEvent(id [32]byte, participant [20]byte, side BetSide, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeBetPlaced,
		Attributes: map[string]string{
			"id":          hexID(id),
			"participant": hexAddr(participant),
			"side":        side.String(),
			"amount":      amount,
		},
	}
}

// BettingStoppedEvent returns the payload for the betting freeze, including
// the remaining-target shortfall that conversion covered when it engaged.
func BettingStoppedEvent(id [32]byte, remainingTarget string) *types.Event {
	return &types.Event{
		Type: EventTypeBettingStopped,
		Attributes: map[string]string{
			"id":              hexID(id),
			"remainingTarget": remainingTarget,
		},
	}
}

// TargetReachedEvent returns the payload emitted when the target resolves met.
func TargetReachedEvent(id [32]byte, totalDonated string) *types.Event {
	return &types.Event{
		Type: EventTypeTargetReached,
		Attributes: map[string]string{
			"id":           hexID(id),
			"totalDonated": totalDonated,
		},
	}
}

// TargetMissedEvent returns the payload emitted when the target resolves missed.
func TargetMissedEvent(id [32]byte, totalDonated, target string) *types.Event {
	return &types.Event{
		Type: EventTypeTargetMissed,
		Attributes: map[string]string{
			"id":           hexID(id),
			"totalDonated": totalDonated,
			"target":       target,
		},
	}
}

// BetsSettledEvent returns the payload carrying the final aggregate totals.
func BetsSettledEvent(c *Campaign) *types.Event {
	return &types.Event{
		Type: EventTypeBetsSettled,
		Attributes: map[string]string{
			"id":           hexID(c.ID),
			"totalDonated": cloneBigInt(c.TotalDonated).String(),
			"totalYesBets": cloneBigInt(c.TotalYesBets).String(),
			"totalNoBets":  cloneBigInt(c.TotalNoBets).String(),
		},
	}
}

// SettledEvent returns the payload for the terminal settlement outcome.
func SettledEvent(c *Campaign) *types.Event {
	return &types.Event{
		Type: EventTypeSettled,
		Attributes: map[string]string{
			"id":            hexID(c.ID),
			"targetReached": strconv.FormatBool(c.TargetReached),
			"yesWon":        strconv.FormatBool(c.YesWon),
			"totalDonated":  cloneBigInt(c.TotalDonated).String(),
		},
	}
}

// WinningsClaimedEvent returns the payload for a completed claim payout.
func WinningsClaimedEvent(id [32]byte, participant [20]byte, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeWinningsClaimed,
		Attributes: map[string]string{
			"id":          hexID(id),
			"participant": hexAddr(participant),
			"amount":      amount,
		},
	}
}

// FundsWithdrawnEvent returns the payload for an owner custody sweep. The
// reached flag distinguishes the designed missed-target withdrawal from a
// successful campaign sweep.
func FundsWithdrawnEvent(id [32]byte, owner [20]byte, amount string, targetReached bool) *types.Event {
	return &types.Event{
		Type: EventTypeFundsWithdrawn,
		Attributes: map[string]string{
			"id":            hexID(id),
			"owner":         hexAddr(owner),
			"amount":        amount,
			"targetReached": strconv.FormatBool(targetReached),
		},
	}
}
