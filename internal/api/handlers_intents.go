package api

import (
	"net/http"

	xerrors "intent-settlement/internal/errors"
)

func (s *Server) handleDomain(w http.ResponseWriter, _ *http.Request) {
	codec := s.engine.Codec()
	d := codec.Domain()
	chainID := "0"
	if d.ChainID != nil {
		chainID = d.ChainID.String()
	}
	writeJSON(w, http.StatusOK, DomainResponse{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           chainID,
		VerifyingContract: d.VerifyingContract,
		Separator:         codec.DomainSeparator(),
	})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	maker, err := addressParam(r, "maker")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{Maker: maker, Nonce: s.engine.Nonce(maker)})
}

func (s *Server) handleIntentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fill, ok := s.engine.IntentStatus(id)
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "intent is not tracked"))
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req SubmitIntentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fill, err := s.engine.SubmitIntent(r.Context(), req.Intent, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitIntentResponse{
		IntentID: fill.IntentID,
		Digest:   s.engine.Codec().Hash(req.Intent),
		Status:   string(fill.Status),
		Deadline: fill.Deadline,
	})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	solver, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req FillRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amountOut, err := parseAmount("amount_out", req.AmountOut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.FillIntent(r.Context(), solver, req.Intent, req.Signature, amountOut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelIntent(w http.ResponseWriter, r *http.Request) {
	maker, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := hashParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.CancelIntent(r.Context(), maker, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	fill, _ := s.engine.IntentStatus(id)
	writeJSON(w, http.StatusOK, fill)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	maker, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.engine.CancelAllIntents(r.Context(), maker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{Maker: maker, Nonce: nonce})
}
