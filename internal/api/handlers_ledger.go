package api

import (
	"net/http"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/ledger"
)

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	assets := []ledger.Asset{}
	if s.assets != nil {
		assets = s.assets.Assets()
	}
	writeJSON(w, http.StatusOK, assets)
}

// handleBalances reports holdings of every registered asset, or of the single
// asset named by the asset query parameter.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.assets == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "no asset registry configured"))
		return
	}
	assets := s.assets.Assets()
	if ref := r.URL.Query().Get("asset"); ref != "" {
		asset, ok := s.assets.Lookup(ref)
		if !ok {
			s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "unknown asset "+ref))
			return
		}
		assets = []ledger.Asset{asset}
	}

	resp := BalancesResponse{Owner: owner, Balances: make([]Balance, 0, len(assets))}
	for _, asset := range assets {
		amount, err := s.book.BalanceOf(r.Context(), asset.AddressOf(), owner)
		if err != nil {
			s.writeError(w, r, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read balance"))
			return
		}
		resp.Balances = append(resp.Balances, Balance{
			Symbol:  asset.Symbol,
			Asset:   asset.AddressOf(),
			Amount:  amount.String(),
			Display: asset.FromBaseUnits(amount),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
