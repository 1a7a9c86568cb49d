package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/brojonat/p2pdash/service/store"
	"github.com/brojonat/p2pdash/service/txn"
	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templatesFS embed.FS

// chartColors match the status display order Pending, Completed, Failed.
var chartColors = []string{"#FFBB28", "#00C49F", "#FF8042"}

const chartRadius = 70.0

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"lower":      strings.ToLower,
		"formatTime": formatTimestamp,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

func (tr *TemplateRenderer) renderStatus(w http.ResponseWriter, name string, data interface{}, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tr.templates.ExecuteTemplate(w, name, data); err != nil {
		tr.logger.Error("failed to render template", "template", name, "error", err)
	}
}

// chartSlice is one arc of the status donut chart.
type chartSlice struct {
	Status     txn.Status
	Count      int
	Color      string
	Percent    float64
	DashArray  string
	DashOffset string
}

// formValues echoes the create form back after a validation failure.
type formValues struct {
	Sender   string
	Receiver string
	Amount   string
	Status   string
}

type dashboardPage struct {
	State         store.State
	Error         string
	Filter        txn.Filter
	Query         string
	Filters       []txn.Filter
	Statuses      []txn.Status
	Transactions  []txn.Transaction
	Chart         []chartSlice
	Total         int
	Circumference float64
	Confirm       *txn.Transaction
	Form          formValues
	FormError     string
}

type transactionPage struct {
	Transaction txn.Transaction
}

type messagePage struct {
	Title   string
	Message string
}

// handleIndexPage serves the landing page.
func handleIndexPage(renderer *TemplateRenderer, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, _ := st.State()
		data := map[string]interface{}{
			"State": state,
			"Count": st.Len(),
			"Year":  time.Now().Year(),
		}
		if err := renderer.Render(w, "index.html", data); err != nil {
			renderer.logger.Error("failed to render template", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// handleDashboardPage serves the list, filter, chart and create form.
// GET /dashboard?status=STATUS&q=QUERY&confirm=ID
func handleDashboardPage(renderer *TemplateRenderer, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := buildDashboard(st, r.URL.Query())
		page.Form = formValues{Status: string(txn.StatusPending)}
		renderer.renderStatus(w, "dashboard.html", page, http.StatusOK)
	}
}

// handleDashboardCreate handles the create form.
// POST /dashboard/transactions
func handleDashboardCreate(renderer *TemplateRenderer, st *store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		form := formValues{
			Sender:   strings.TrimSpace(r.PostForm.Get("sender")),
			Receiver: strings.TrimSpace(r.PostForm.Get("receiver")),
			Amount:   strings.TrimSpace(r.PostForm.Get("amount")),
			Status:   r.PostForm.Get("status"),
		}

		fail := func(msg string, status int) {
			page := buildDashboard(st, url.Values{})
			page.Form = form
			page.FormError = msg
			renderer.renderStatus(w, "dashboard.html", page, status)
		}

		amount, err := decimal.NewFromString(form.Amount)
		if err != nil {
			fail(fmt.Sprintf("amount %q is not a number", form.Amount), http.StatusBadRequest)
			return
		}

		_, err = st.Create(r.Context(), txn.Draft{
			Sender:   form.Sender,
			Receiver: form.Receiver,
			Amount:   amount,
			Status:   txn.Status(form.Status),
		})
		switch {
		case err == nil:
		case errors.Is(err, txn.ErrInvalidTransaction):
			fail(err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, store.ErrNotReady), errors.Is(err, store.ErrCacheUnavailable):
			fail(err.Error(), http.StatusServiceUnavailable)
			return
		default:
			logger.Error("failed to create transaction from form", "error", err)
			fail("internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

// handleDashboardDelete handles the confirmed delete form.
// POST /dashboard/transactions/{id}/delete
func handleDashboardDelete(st *store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if err := st.Delete(r.Context(), id); err != nil {
			logger.Warn("failed to delete transaction from dashboard", "id", id, "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		http.Redirect(w, r, dashboardURL(r.PostForm.Get("status"), r.PostForm.Get("q")), http.StatusSeeOther)
	}
}

// handleDashboardReload retries store initialization from the empty state.
// POST /dashboard/reload
func handleDashboardReload(st *store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Initialize(r.Context()); err != nil {
			logger.Warn("dashboard reload failed", "error", err)
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

// handleTransactionPage serves the detail view for one transaction.
// GET /transaction/{id}
func handleTransactionPage(renderer *TemplateRenderer, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			renderer.renderStatus(w, "not_found.html", messagePage{
				Title:   "Invalid transaction id",
				Message: err.Error(),
			}, http.StatusBadRequest)
			return
		}

		tx, err := st.Get(id)
		if err != nil {
			renderer.renderStatus(w, "not_found.html", messagePage{
				Title:   "Transaction not found",
				Message: fmt.Sprintf("No transaction with id %d exists.", id),
			}, http.StatusNotFound)
			return
		}

		renderer.renderStatus(w, "transaction.html", transactionPage{Transaction: tx}, http.StatusOK)
	}
}

// handleFavicon serves a small inline SVG icon.
func handleFavicon() http.HandlerFunc {
	const icon = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32">` +
		`<circle cx="16" cy="16" r="14" fill="#5a67d8"/>` +
		`<path d="M9 13h12l-3-3M23 19H11l3 3" stroke="#fff" stroke-width="2.5" fill="none" stroke-linecap="round"/>` +
		`</svg>`
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(icon))
	}
}

func buildDashboard(st *store.Store, query url.Values) dashboardPage {
	state, stateErr := st.State()

	filter, err := txn.ParseFilter(query.Get("status"))
	if err != nil {
		filter = txn.FilterAll
	}
	search := query.Get("q")

	page := dashboardPage{
		State:         state,
		Filter:        filter,
		Query:         search,
		Filters:       []txn.Filter{txn.FilterAll},
		Statuses:      txn.Statuses,
		Transactions:  slices.Collect(st.List(filter, search)),
		Circumference: 2 * math.Pi * chartRadius,
	}
	for _, status := range txn.Statuses {
		page.Filters = append(page.Filters, txn.Filter(status))
	}
	if stateErr != nil {
		page.Error = stateErr.Error()
	}

	if raw := query.Get("confirm"); raw != "" {
		if id, err := parseID(raw); err == nil {
			if tx, err := st.Get(id); err == nil {
				page.Confirm = &tx
			}
		}
	}

	page.Chart, page.Total = chartSlices(st.AggregateByStatus())
	return page
}

// chartSlices lays the buckets out as stroke-dasharray arcs on one circle.
func chartSlices(buckets []store.Bucket) ([]chartSlice, int) {
	total := 0
	for _, b := range buckets {
		total += b.Count
	}

	circumference := 2 * math.Pi * chartRadius
	arcs := make([]chartSlice, len(buckets))
	offset := 0.0
	for i, b := range buckets {
		s := chartSlice{
			Status: b.Status,
			Count:  b.Count,
			Color:  chartColors[i%len(chartColors)],
		}
		if total > 0 {
			s.Percent = float64(b.Count) / float64(total) * 100
			length := circumference * float64(b.Count) / float64(total)
			s.DashArray = fmt.Sprintf("%.2f %.2f", length, circumference-length)
			s.DashOffset = fmt.Sprintf("%.2f", -offset)
			offset += length
		}
		arcs[i] = s
	}
	return arcs, total
}

func dashboardURL(status, query string) string {
	v := url.Values{}
	if status != "" && status != string(txn.FilterAll) {
		v.Set("status", status)
	}
	if query != "" {
		v.Set("q", query)
	}
	if len(v) == 0 {
		return "/dashboard"
	}
	return "/dashboard?" + v.Encode()
}

// formatTimestamp renders a stored timestamp for humans, falling back to the raw text.
func formatTimestamp(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format("Jan 2, 2006 3:04:05 PM UTC")
}
