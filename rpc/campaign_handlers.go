package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mart1n-xyz/gobetme/core/types"
	"github.com/mart1n-xyz/gobetme/native/campaign"
	"github.com/mart1n-xyz/gobetme/observability/metrics"
)

type campaignCreateParams struct {
	Owner    string `json:"owner"`
	Token    string `json:"token"`
	Cause    string `json:"cause"`
	Target   string `json:"target"`
	Deadline int64  `json:"deadline"`
	Nonce    uint64 `json:"nonce"`
}

type campaignContributeParams struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
	Side        string `json:"side,omitempty"`
}

type campaignIDParams struct {
	ID string `json:"id"`
}

type campaignCallerParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type campaignPositionParams struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
}

type campaignResult struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Token          string `json:"token"`
	Cause          string `json:"cause"`
	Target         string `json:"target"`
	Deadline       int64  `json:"deadline"`
	CreatedAt      int64  `json:"createdAt"`
	TotalDonated   string `json:"totalDonated"`
	TotalYesBets   string `json:"totalYesBets"`
	TotalNoBets    string `json:"totalNoBets"`
	BettingStopped bool   `json:"bettingStopped"`
	Settled        bool   `json:"settled"`
	TargetReached  bool   `json:"targetReached"`
	YesWon         bool   `json:"yesWon"`
}

type campaignActionResult struct {
	Campaign campaignResult `json:"campaign"`
	Events   []types.Event  `json:"events,omitempty"`
}

type campaignAmountResult struct {
	ID     string        `json:"id"`
	Amount string        `json:"amount"`
	Events []types.Event `json:"events,omitempty"`
}

type campaignPositionResult struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
	Donated     string `json:"donated"`
	YesBet      string `json:"yesBet"`
	NoBet       string `json:"noBet"`
}

type campaignProgressResult struct {
	ID            string `json:"id"`
	ProgressBps   string `json:"progressBps"`
	TimeRemaining int64  `json:"timeRemaining"`
	TargetMet     bool   `json:"targetMet"`
}

type campaignListResult struct {
	Campaigns []string `json:"campaigns"`
}

func formatCampaign(c *campaign.Campaign) campaignResult {
	return campaignResult{
		ID:             hex.EncodeToString(c.ID[:]),
		Owner:          common.BytesToAddress(c.Owner[:]).Hex(),
		Token:          c.Token,
		Cause:          c.Cause,
		Target:         bigString(c.Target),
		Deadline:       c.Deadline,
		CreatedAt:      c.CreatedAt,
		TotalDonated:   bigString(c.TotalDonated),
		TotalYesBets:   bigString(c.TotalYesBets),
		TotalNoBets:    bigString(c.TotalNoBets),
		BettingStopped: c.BettingStopped,
		Settled:        c.Settled,
		TargetReached:  c.TargetReached,
		YesWon:         c.YesWon,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseHexAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address: %s", value)
	}
	var addr [20]byte
	copy(addr[:], common.HexToAddress(trimmed).Bytes())
	return addr, nil
}

func parseCampaignIDHex(value string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid campaign id: %v", err)
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid campaign id length: %d", len(raw))
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", value)
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// drainEvents collects the typed payloads of the events the last action
// emitted to the recorder.
func (s *Server) drainEvents() []types.Event {
	if s.recorder == nil {
		return nil
	}
	raw := s.recorder.Drain()
	out := make([]types.Event, 0, len(raw))
	for _, evt := range raw {
		if holder, ok := evt.(interface{ Event() *types.Event }); ok {
			if payload := holder.Event(); payload != nil {
				out = append(out, *payload)
			}
		}
	}
	return out
}

// observeConversions bumps the conversion counter for every bet-to-donate
// conversion the drained events report.
func observeConversions(evts []types.Event) {
	for _, evt := range evts {
		if evt.Type == campaign.EventTypeBetsSettled {
			metrics.Campaign().ObserveConversion()
		}
	}
}

func writeCampaignError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		status, code, message = http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, campaign.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeUnauthorized, "forbidden"
	case errors.Is(err, campaign.ErrInvalidAmount):
		status, code, message = http.StatusBadRequest, codeInvalidParams, "invalid_params"
	case errors.Is(err, campaign.ErrCampaignEnded),
		errors.Is(err, campaign.ErrCampaignNotEnded),
		errors.Is(err, campaign.ErrBettingFrozen),
		errors.Is(err, campaign.ErrAlreadySettled),
		errors.Is(err, campaign.ErrCampaignExists),
		errors.Is(err, campaign.ErrNoFundsAvailable),
		errors.Is(err, campaign.ErrReentrantCall):
		status, code, message = http.StatusConflict, codeConflict, "conflict"
	case errors.Is(err, campaign.ErrTransferFailed):
		status, code, message = http.StatusConflict, codeConflict, "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params campaignCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseHexAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	target, err := parsePositiveBigInt(params.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Nonce == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "nonce must be > 0")
		return
	}
	c, err := s.engine.CreateCampaign(owner, params.Token, params.Cause, target, params.Deadline, params.Nonce)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	metrics.Campaign().ObserveCampaignCreated()
	writeResult(w, req.ID, campaignActionResult{Campaign: formatCampaign(c), Events: s.drainEvents()})
}

func (s *Server) handleCampaignDonate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	id, participant, amount, ok := s.decodeContribution(w, req)
	if !ok {
		return
	}
	c, err := s.engine.Donate(id, participant, amount)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	metrics.Campaign().ObserveDonation()
	evts := s.drainEvents()
	observeConversions(evts)
	writeResult(w, req.ID, campaignActionResult{Campaign: formatCampaign(c), Events: evts})
}

func (s *Server) handleCampaignPlaceBet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params campaignContributeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	participant, err := parseHexAddress(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	side, err := campaign.ParseBetSide(params.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.engine.PlaceBet(id, participant, side, amount)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	metrics.Campaign().ObserveBet(side.String())
	evts := s.drainEvents()
	observeConversions(evts)
	writeResult(w, req.ID, campaignActionResult{Campaign: formatCampaign(c), Events: evts})
}

func (s *Server) decodeContribution(w http.ResponseWriter, req *RPCRequest) ([32]byte, [20]byte, *big.Int, bool) {
	var params campaignContributeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, [20]byte{}, nil, false
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, [20]byte{}, nil, false
	}
	participant, err := parseHexAddress(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, [20]byte{}, nil, false
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, [20]byte{}, nil, false
	}
	return id, participant, amount, true
}

func (s *Server) handleCampaignCheckTotals(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params campaignIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.engine.CheckTotals(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	evts := s.drainEvents()
	observeConversions(evts)
	writeResult(w, req.ID, campaignActionResult{Campaign: formatCampaign(c), Events: evts})
}

func (s *Server) handleCampaignSettle(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params campaignIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.engine.Settle(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	outcome := "missed"
	if c.TargetReached {
		outcome = "reached"
	}
	metrics.Campaign().ObserveSettlement(outcome)
	evts := s.drainEvents()
	observeConversions(evts)
	writeResult(w, req.ID, campaignActionResult{Campaign: formatCampaign(c), Events: evts})
}

func (s *Server) handleCampaignClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params campaignPositionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	participant, err := parseHexAddress(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.Claim(id, participant)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	if amount.Sign() > 0 {
		metrics.Campaign().ObserveClaim()
	}
	writeResult(w, req.ID, campaignAmountResult{ID: params.ID, Amount: amount.String(), Events: s.drainEvents()})
}

func (s *Server) handleCampaignWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params campaignCallerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.WithdrawFunds(id, caller)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, campaignAmountResult{ID: params.ID, Amount: amount.String(), Events: s.drainEvents()})
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params campaignIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.engine.Get(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatCampaign(c))
}

func (s *Server) handleCampaignPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params campaignPositionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	participant, err := parseHexAddress(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	pos, err := s.engine.PositionOf(id, participant)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, campaignPositionResult{
		ID:          params.ID,
		Participant: common.BytesToAddress(participant[:]).Hex(),
		Donated:     bigString(pos.Donated),
		YesBet:      bigString(pos.YesBet),
		NoBet:       bigString(pos.NoBet),
	})
}

func (s *Server) handleCampaignProgress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params campaignIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseCampaignIDHex(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	bps, err := s.engine.Progress(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	remaining, err := s.engine.TimeRemaining(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	met, err := s.engine.TargetMet(id)
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, campaignProgressResult{
		ID:            params.ID,
		ProgressBps:   bps.String(),
		TimeRemaining: remaining,
		TargetMet:     met,
	})
}

func (s *Server) handleCampaignList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.engine.List()
	if err != nil {
		writeCampaignError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, hex.EncodeToString(id[:]))
	}
	writeResult(w, req.ID, campaignListResult{Campaigns: out})
}
