package http

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"dividi/internal/core"
	"dividi/internal/export"
)

func (s *Server) handleExchangeRates(w http.ResponseWriter, r *http.Request) {
	table, err := s.ledger.Rates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make(map[string]float64, len(table))
	for c, rate := range table {
		f, _ := rate.Float64()
		out[string(c)] = f
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	groupID := mux.Vars(r)["id"]
	report, err := s.ledger.Report(r.Context(), groupID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalancesView(groupID, report))
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	groupID := mux.Vars(r)["id"]
	report, err := s.ledger.Report(r.Context(), groupID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v := settlementsView{
		GroupID:           groupID,
		ConversionSkipped: report.ConversionSkipped,
		Settlements:       newSettlementViews(report.Settlements),
	}
	if report.Converted() {
		v.DisplayCurrency = string(report.DisplayCurrency)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBalanceData(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	groupID := mux.Vars(r)["id"]
	d, err := s.groups.Get(r.Context(), groupID, currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	slices, cur, err := s.ledger.Chart(r.Context(), groupID, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make(map[core.Member]string, len(d.Members))
	for _, m := range d.Members {
		names[core.Member(m.UserID)] = m.Username
	}
	sort.SliceStable(slices, func(i, j int) bool { return names[slices[i].Member] < names[slices[j].Member] })
	writeJSON(w, http.StatusOK, newChartView(slices, names, cur))
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	q, err := ledgerQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.ledger.Document(r.Context(), mux.Vars(r)["id"], q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, doc); err != nil {
		writeError(w, r, fmt.Errorf("write csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(doc.GroupName)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
