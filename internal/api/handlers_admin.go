package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
)

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Params())
}

// handleUpdateParams applies each provided field as its own engine operation.
// A failure stops the sequence; fields applied before it stay applied.
func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ParamsUpdate
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	steps, err := s.paramSteps(owner, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(steps) == 0 {
		s.writeError(w, r, badRequest("no parameters to update"))
		return
	}
	for _, step := range steps {
		if err := step(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.engine.Params())
}

// paramSteps parses every field before any is applied.
func (s *Server) paramSteps(owner common.Address, req ParamsUpdate) ([]func(context.Context) error, error) {
	var steps []func(context.Context) error
	if req.ProtocolFeeBps != nil {
		bps := *req.ProtocolFeeBps
		steps = append(steps, func(ctx context.Context) error { return s.engine.SetProtocolFee(ctx, owner, bps) })
	}
	if req.MinSolverStake != nil {
		stake, err := parseAmount("min_solver_stake", *req.MinSolverStake)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(ctx context.Context) error { return s.engine.SetMinSolverStake(ctx, owner, stake) })
	}
	durations := []struct {
		field string
		raw   *string
		apply func(context.Context, common.Address, time.Duration) error
	}{
		{"batch_interval", req.BatchInterval, s.engine.SetBatchInterval},
		{"reveal_timeout", req.RevealTimeout, s.engine.SetRevealTimeout},
		{"dutch_decay_period", req.DutchDecayPeriod, s.engine.SetDutchDecayPeriod},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, d.field)
		}
		apply := d.apply
		steps = append(steps, func(ctx context.Context) error { return apply(ctx, owner, parsed) })
	}
	if req.Permissioned != nil {
		on := *req.Permissioned
		steps = append(steps, func(ctx context.Context) error { return s.engine.SetPermissioned(ctx, owner, on) })
	}
	if req.FeeRecipient != nil {
		recipient := *req.FeeRecipient
		steps = append(steps, func(ctx context.Context) error { return s.engine.SetFeeRecipient(ctx, owner, recipient) })
	}
	return steps, nil
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req OwnerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.TransferOwnership(r.Context(), owner, req.NewOwner); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Params())
}
