package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

type ledgerCreditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type ledgerBalanceParams struct {
	Address string `json:"address"`
}

type ledgerBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// handleLedgerCredit seeds a participant balance. It is an administrative
// faucet and always requires the bearer token when one is configured.
func (s *Server) handleLedgerCredit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params ledgerCreditParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseHexAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.vault.Credit(addr, amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, ledgerBalanceResult{
		Address: common.BytesToAddress(addr[:]).Hex(),
		Balance: balance.String(),
	})
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ledgerBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseHexAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.vault.AccountBalance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, ledgerBalanceResult{
		Address: common.BytesToAddress(addr[:]).Hex(),
		Balance: balance.String(),
	})
}
