package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/Tank-Iberica/trust-engine/engine/profile"
	"github.com/Tank-Iberica/trust-engine/engine/usage"
	"github.com/Tank-Iberica/trust-engine/engine/verification"
	"github.com/Tank-Iberica/trust-engine/pkg/docextract"
	"github.com/Tank-Iberica/trust-engine/pkg/natsutil"
	"github.com/Tank-Iberica/trust-engine/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// profileSearcher is the part of profile.Store the handlers need.
type profileSearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, topK int) ([]profile.Match, error)
}

type server struct {
	controller *verification.Controller
	profiles   profileSearcher
	publish    func(ctx context.Context, event profile.AnalysisEvent) error
	log        *slog.Logger
}

func newServer(controller *verification.Controller, profiles profileSearcher, nc *nats.Conn, log *slog.Logger) *server {
	return &server{
		controller: controller,
		profiles:   profiles,
		publish: func(ctx context.Context, event profile.AnalysisEvent) error {
			return natsutil.Publish(ctx, nc, profile.SubjectUsageAnalyzed, event)
		},
		log: log,
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// --- usage analysis ---

type inspectionInput struct {
	Date   string  `json:"date"`
	Value  float64 `json:"value"`
	Result string  `json:"result,omitempty"`
}

// AnalyzeRequest is the JSON body for POST /api/v1/usage/analysis.
type AnalyzeRequest struct {
	VehicleID string            `json:"vehicle_id,omitempty"`
	Unit      string            `json:"unit"`
	History   []inspectionInput `json:"history"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history, unit, err := parseAnalyzeRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	analysis := usage.Analyze(history, unit)
	mAnalysisDur.Since(start)
	mAnalyses.Inc()
	for _, a := range analysis.Anomalies {
		mAnomalies(string(a.Type)).Inc()
	}

	if req.VehicleID != "" && s.publish != nil {
		event := profile.AnalysisEvent{
			VehicleID:  req.VehicleID,
			Analysis:   analysis,
			OccurredAt: time.Now().UTC(),
		}
		if err := s.publish(r.Context(), event); err != nil {
			s.log.Warn("analysis event publish failed", "vehicle_id", req.VehicleID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, analysis)
}

func parseAnalyzeRequest(req AnalyzeRequest) ([]domain.InspectionRecord, domain.UsageUnit, error) {
	unit := domain.UsageUnit(req.Unit)
	if err := domain.ValidateUnit(unit); err != nil {
		return nil, "", err
	}

	history := make([]domain.InspectionRecord, len(req.History))
	for i, in := range req.History {
		date, err := parseDate(in.Date)
		if err != nil {
			return nil, "", domain.NewValidationError("history.date", in.Date, domain.ErrZeroDate)
		}
		history[i] = domain.InspectionRecord{
			Date:   date,
			Value:  in.Value,
			Result: domain.InspectionResult(in.Result),
		}
	}
	if err := domain.ValidateHistory(history); err != nil {
		return nil, "", err
	}
	return history, unit, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// --- profile similarity ---

// ProfileSearchRequest analyzes the posted history and returns vehicles with
// the closest usage fingerprints.
type ProfileSearchRequest struct {
	Unit    string            `json:"unit"`
	History []inspectionInput `json:"history"`
	TopK    int               `json:"top_k,omitempty"`
}

func (s *server) handleProfileSearch(w http.ResponseWriter, r *http.Request) {
	var req ProfileSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history, unit, err := parseAnalyzeRequest(AnalyzeRequest{Unit: req.Unit, History: req.History})
	if err != nil {
		writeError(w, err)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	analysis := usage.Analyze(history, unit)
	matches, err := s.profiles.SearchSimilar(r.Context(), profile.Fingerprint(analysis), topK)
	if err != nil {
		s.log.Error("profile search failed", "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "profile search unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// --- document lifecycle ---

// SubmitRequest is the JSON body for document submission. Text, when present,
// is the OCR output of the uploaded file; structured fields are extracted
// from it and stored with the document.
type SubmitRequest struct {
	DocType     string `json:"doc_type"`
	FileRef     string `json:"file_ref,omitempty"`
	SubmittedBy string `json:"submitted_by,omitempty"`
	Text        string `json:"text,omitempty"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("id")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	docID, err := s.controller.Submit(r.Context(), vehicleID, domain.VerificationDocType(req.DocType), req.FileRef, req.SubmittedBy, docextract.Extract(req.Text))
	if err != nil {
		writeError(w, err)
		return
	}

	mSubmissions.Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
}

// ApproveRequest is the JSON body for document approval.
type ApproveRequest struct {
	ApproverID string `json:"approver_id"`
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level, err := s.controller.Approve(r.Context(), docID, req.ApproverID)
	if err != nil {
		writeError(w, err)
		return
	}

	mTransitions("verified").Inc()
	writeLevel(w, level)
}

// RejectRequest is the JSON body for document rejection.
type RejectRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason"`
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level, err := s.controller.Reject(r.Context(), docID, req.ApproverID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	mTransitions("rejected").Inc()
	writeLevel(w, level)
}

func (s *server) handleLevel(w http.ResponseWriter, r *http.Request) {
	level, err := s.controller.CurrentLevel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeLevel(w, level)
}

func (s *server) handleMissingDocs(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	level, ok := domain.ParseLevel(target)
	if !ok {
		writeError(w, domain.NewValidationError("target", target, domain.ErrUnknownLevel))
		return
	}

	missing, err := s.controller.MissingForLevel(r.Context(), r.PathValue("id"), level)
	if err != nil {
		writeError(w, err)
		return
	}
	if missing == nil {
		missing = []domain.VerificationDocType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": level.String(), "missing": missing})
}

// --- response helpers ---

func writeLevel(w http.ResponseWriter, level domain.VerificationLevel) {
	writeJSON(w, http.StatusOK, map[string]string{
		"level": level.String(),
		"badge": level.Badge(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps engine errors onto HTTP statuses: validation 400, missing
// 404, terminal-state conflicts 409, infrastructure 503.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, err.Error())
	case domain.IsRetryable(err) || errors.Is(err, resilience.ErrCircuitOpen):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
