package api

import (
	"net/http"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
)

func (s *Server) handleSolver(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	solver, ok := s.engine.Solver(addr)
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "solver is not registered"))
		return
	}
	writeJSON(w, http.StatusOK, solver)
}

func (s *Server) handleRegisterSolver(w http.ResponseWriter, r *http.Request) {
	addr, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	stake, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	solver, err := s.engine.RegisterSolver(r.Context(), addr, stake)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, solver)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	solver, err := s.engine.WithdrawStake(r.Context(), addr, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, solver)
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req SlashRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	slashed, err := s.engine.Slash(r.Context(), owner, target, amount, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlashResponse{Solver: target, Slashed: intent.FormatAmount(slashed)})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req WhitelistRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetWhitelist(r.Context(), owner, target, req.Whitelisted); err != nil {
		s.writeError(w, r, err)
		return
	}
	solver, _ := s.engine.Solver(target)
	writeJSON(w, http.StatusOK, solver)
}
