package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

type settleRequest struct {
	ExpenseIDs []string `json:"expense_ids"`
	// Settled defaults to true.
	Settled *bool `json:"settled"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.expenses.ListExpenses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]expenseView, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(r, err.Error()).Write(w)
		return
	}
	in, err := req.toNewExpense(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.expenses.CreateExpense(r.Context(), currentUser(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseView(e))
}

func (s *Server) handleSettleExpenses(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(r, err.Error()).Write(w)
		return
	}
	settled := true
	if req.Settled != nil {
		settled = *req.Settled
	}
	n, err := s.expenses.SetSettled(r.Context(), currentUser(r), mux.Vars(r)["id"], req.ExpenseIDs, settled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Updated int  `json:"updated"`
		Settled bool `json:"settled"`
	}{n, settled})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.expenses.DeleteExpense(r.Context(), currentUser(r), vars["id"], vars["eid"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
