package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vendify/internal/domain"
	"vendify/internal/report"
	"vendify/internal/users"
)

func (a *API) salesSummary(r *http.Request) (report.SalesSummary, error) {
	scope, err := a.scope(r)
	if err != nil {
		return report.SalesSummary{}, err
	}
	q := r.URL.Query()
	from, to, err := report.ParseRange(q.Get("from"), q.Get("to"), time.Now())
	if err != nil {
		return report.SalesSummary{}, err
	}
	top := parsePositiveInt(q.Get("top"), 10, 100)
	return a.Reports.SalesSummary(r.Context(), scope, from, to, top)
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	summary, err := a.salesSummary(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSalesReportCSV(w http.ResponseWriter, r *http.Request) {
	summary, err := a.salesSummary(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteSalesCSV(&buf, summary); err != nil {
		a.writeError(w, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", reportName("sales", summary.From, summary.To, "csv"), buf.Bytes())
}

func (a *API) handleSalesReportXLSX(w http.ResponseWriter, r *http.Request) {
	summary, err := a.salesSummary(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteSalesXLSX(&buf, summary); err != nil {
		a.writeError(w, err)
		return
	}
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", reportName("sales", summary.From, summary.To, "xlsx"), buf.Bytes())
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	v, err := a.Reports.InventoryValuation(r.Context(), scope)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleInventoryReportCSV(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	v, err := a.Reports.InventoryValuation(r.Context(), scope)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteInventoryCSV(&buf, v); err != nil {
		a.writeError(w, err)
		return
	}
	name := fmt.Sprintf("inventory-%s.csv", v.GeneratedAt.Format("20060102"))
	writeAttachment(w, "text/csv; charset=utf-8", name, buf.Bytes())
}

func reportName(kind string, from time.Time, to time.Time, ext string) string {
	return fmt.Sprintf("%s-%s-%s.%s", kind, from.Format("20060102"), to.Format("20060102"), ext)
}

func writeAttachment(w http.ResponseWriter, contentType string, name string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.Users.List(r.Context())})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var input domain.UserInput
	if err := decodeJSON(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.Users.Create(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch users.Patch
	if err := decodeJSON(r, &patch); err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.Users.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.Users.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleAuthenticateUser(w http.ResponseWriter, r *http.Request) {
	if !a.authLimiter.Allow(clientKey(r)) {
		a.writeStatus(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}
	var body credentialsRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.Users.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type verifyReceiptRequest struct {
	Token string `json:"token"`
}

func (a *API) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var body verifyReceiptRequest
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	claims, err := a.Issuer.Verify(strings.TrimSpace(body.Token))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "claims": claims})
}
