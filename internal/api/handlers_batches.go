package api

import (
	"fmt"
	"math/big"
	"net/http"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/settlement"
)

func (s *Server) handleCurrentBatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CurrentBatch())
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, ok := s.engine.Batch(id)
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "batch is not known"))
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCommitBatch(w http.ResponseWriter, r *http.Request) {
	solver, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CommitBatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.engine.CommitBatch(r.Context(), solver, req.CommitHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleSettleBatch(w http.ResponseWriter, r *http.Request) {
	solver, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req SettleBatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reveal := settlement.BatchReveal{
		Intents:    req.Intents,
		Signatures: make([][]byte, len(req.Signatures)),
		AmountsOut: make([]*big.Int, len(req.AmountsOut)),
		Salt:       req.Salt,
	}
	for i, sig := range req.Signatures {
		reveal.Signatures[i] = sig
	}
	for i, raw := range req.AmountsOut {
		if reveal.AmountsOut[i], err = parseAmount(fmt.Sprintf("amounts_out[%d]", i), raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.engine.SettleBatch(r.Context(), solver, reveal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	addr, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.engine.CancelBatch(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}
