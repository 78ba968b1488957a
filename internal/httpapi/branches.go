package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vendify/internal/domain"
)

type branchesResponse struct {
	Branches []domain.Branch `json:"branches"`
	Current  domain.Branch   `json:"current"`
	AllView  bool            `json:"allView"`
}

func (a *API) branchState() branchesResponse {
	current, _ := a.Branches.CurrentBranch()
	return branchesResponse{
		Branches: a.Branches.GetAllBranches(),
		Current:  current,
		AllView:  a.Branches.IsAllBranches(),
	}
}

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.branchState())
}

func (a *API) handleCurrentBranch(w http.ResponseWriter, r *http.Request) {
	scope := a.Branches.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"branch":  scope.Branch,
		"central": scope.Central,
		"tag":     scope.Tag(),
	})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var input domain.BranchInput
	if err := decodeJSON(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	b, err := a.Branches.CreateBranch(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Gateway.InvalidateStats(r.Context(), "")
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	var patch domain.BranchPatch
	if err := decodeJSON(r, &patch); err != nil {
		a.writeError(w, err)
		return
	}
	b, err := a.Branches.UpdateBranch(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.Gateway.InvalidateStats(r.Context(), "")
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := a.Branches.DeleteBranch(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	a.Gateway.InvalidateStats(r.Context(), "")
	writeJSON(w, http.StatusOK, a.branchState())
}

func (a *API) handleSwitchBranch(w http.ResponseWriter, r *http.Request) {
	if !a.Branches.SwitchBranch(r.Context(), chi.URLParam(r, "id")) {
		a.writeError(w, errBranchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.branchState())
}

func (a *API) handleViewAll(w http.ResponseWriter, r *http.Request) {
	a.Branches.SetViewAllBranches(r.Context())
	writeJSON(w, http.StatusOK, a.branchState())
}
