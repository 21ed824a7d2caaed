package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/report"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

const maxBodyBytes = 8 << 20

// Analyzer is the engine behind the API.
type Analyzer interface {
	Register(ctx context.Context, reg signal.Registration) (signal.Registration, error)
	SetCategory(ctx context.Context, product signal.Product, category string) error
	Ingest(ctx context.Context, tenantID, productID string, events []*signal.Event) (int, error)
	Trajectory(ctx context.Context, tenantID, productID string) (*analysis.TrajectoryReport, error)
	Health(ctx context.Context, tenantID, productID string) (*analysis.HealthReport, error)
	Analyze(ctx context.Context, tenantID, productID string) (*analysis.Analysis, error)
	Report(ctx context.Context, tenantID, productID string) (*analysis.Report, error)
	Series(ctx context.Context, tenantID, productID, name string, stage signal.Stage) (any, error)
	Events(ctx context.Context, tenantID, productID, name string, stage signal.Stage) (any, error)
	ListDrafts(ctx context.Context, tenantID, status string) ([]store.Draft, error)
	Draft(ctx context.Context, tenantID, draftID string) (store.Draft, error)
	ReviewDraft(ctx context.Context, tenantID, draftID string, review analysis.DraftReview) (store.Draft, error)
}

// PDFRenderer turns report markdown into a PDF.
type PDFRenderer interface {
	Render(ctx context.Context, title, markdown string) ([]byte, error)
}

type Config struct {
	// APIToken, when set, is required as a bearer token on every route but
	// /v1/health.
	APIToken string
	Renderer PDFRenderer
	Now      func() time.Time
}

type Server struct {
	svc      Analyzer
	renderer PDFRenderer
	token    []byte
	now      func() time.Time
	started  time.Time
}

func NewServer(svc Analyzer, cfg Config) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		svc:      svc,
		renderer: cfg.Renderer,
		now:      cfg.Now,
		started:  cfg.Now(),
	}
	if tok := strings.TrimSpace(cfg.APIToken); tok != "" {
		sum := sha256.Sum256([]byte(tok))
		s.token = sum[:]
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/registrations", s.authed(s.handleRegistrations))
	mux.HandleFunc("/v1/categories", s.authed(s.handleCategories))
	mux.HandleFunc("/v1/signals", s.authed(s.handleSignals))
	mux.HandleFunc("/v1/products/", s.authed(s.handleProduct))
	mux.HandleFunc("/v1/review-drafts", s.authed(s.handleDrafts))
	mux.HandleFunc("/v1/review-drafts/", s.authed(s.handleDraft))
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	ae := toError(err)
	if ae.Status >= 500 {
		log.Printf("httpapi request_failed code=%s err=%v", ae.Code, err)
	}
	writeJSON(w, ae.Status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    ae.Code,
			"message": ae.Message,
		},
	})
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return validationJSONError(err)
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return validationJSONError(err)
	}
	return nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != nil {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
				writeError(w, newError(CodeUnauthorized, "bearer token required"))
				return
			}
			sum := sha256.Sum256([]byte(strings.TrimSpace(raw[len("bearer "):])))
			if !hmac.Equal(sum[:], s.token) {
				writeError(w, newError(CodeUnauthorized, "invalid token"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req signal.Registration
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reg, err := s.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "registration": reg})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		VendorName  string `json:"vendor_name"`
		ProductName string `json:"product_name"`
		Category    string `json:"category"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	product := signal.Product{
		VendorName:  strings.TrimSpace(req.VendorName),
		ProductName: strings.TrimSpace(req.ProductName),
	}
	if err := s.svc.SetCategory(r.Context(), product, req.Category); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		TenantID  string          `json:"tenant_id"`
		ProductID string          `json:"product_id"`
		Events    []*signal.Event `json:"events"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.TenantID == "" || req.ProductID == "" {
		writeError(w, newError(CodeValidation, "tenant_id and product_id are required"))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, newError(CodeValidation, "events must not be empty"))
		return
	}
	n, err := s.svc.Ingest(r.Context(), req.TenantID, req.ProductID, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "accepted": n})
}

// handleProduct serves /v1/products/{product_id}/{trajectory|health|analyze|report.pdf}
// and /v1/products/{product_id}/{metrics|events}/{name}.
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/products/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	productID, action := parts[0], parts[1]
	var name string
	switch {
	case len(parts) == 2 && (action == "trajectory" || action == "health" || action == "analyze" || action == "report.pdf"):
	case len(parts) == 3 && (action == "metrics" || action == "events") && parts[2] != "":
		name = parts[2]
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	tenantID := strings.TrimSpace(query.Get("tenant_id"))

	method := http.MethodGet
	if action == "analyze" {
		method = http.MethodPost
	}
	if !methodOnly(w, r, method) {
		return
	}
	if tenantID == "" {
		writeError(w, newError(CodeValidation, "tenant_id is required"))
		return
	}

	ctx := r.Context()
	switch action {
	case "trajectory":
		rep, err := s.svc.Trajectory(ctx, tenantID, productID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true, "trajectory": rep})
	case "health":
		rep, err := s.svc.Health(ctx, tenantID, productID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true, "health": rep})
	case "analyze":
		res, err := s.svc.Analyze(ctx, tenantID, productID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true, "analysis": res})
	case "metrics", "events":
		compute := s.svc.Series
		if action == "events" {
			compute = s.svc.Events
		}
		stage := signal.Stage(strings.TrimSpace(query.Get("stage")))
		out, err := compute(ctx, tenantID, productID, name, stage)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"ok": true, "metric": name, "stage": stage, action: out})
	case "report.pdf":
		s.handleReportPDF(w, r, tenantID, productID)
	}
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request, tenantID, productID string) {
	if s.renderer == nil {
		writeError(w, newError(CodeUnavailable, "pdf rendering is not configured"))
		return
	}
	rep, err := s.svc.Report(r.Context(), tenantID, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	title := rep.Registration.ProductName + " by " + rep.Registration.VendorName
	pdf, err := s.renderer.Render(r.Context(), title, report.Markdown(rep))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="trajectory-report.pdf"`)
	w.WriteHeader(200)
	_, _ = w.Write(pdf)
}

// handleDrafts serves GET /v1/review-drafts?tenant_id=&status=.
func (s *Server) handleDrafts(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query()
	drafts, err := s.svc.ListDrafts(r.Context(), query.Get("tenant_id"), query.Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "drafts": drafts})
}

// handleDraft serves GET and PATCH /v1/review-drafts/{draft_id}?tenant_id=.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	draftID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/review-drafts/"), "/")
	if draftID == "" || strings.Contains(draftID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))

	var (
		d   store.Draft
		err error
	)
	switch r.Method {
	case http.MethodGet:
		d, err = s.svc.Draft(r.Context(), tenantID, draftID)
	case http.MethodPatch:
		var req analysis.DraftReview
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		req.Status = strings.TrimSpace(req.Status)
		d, err = s.svc.ReviewDraft(r.Context(), tenantID, draftID, req)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "draft": d})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":             true,
		"status":         "ok",
		"uptime_seconds": int(s.now().Sub(s.started).Seconds()),
	})
}
