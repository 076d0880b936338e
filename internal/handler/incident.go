package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/evidence"
	"github.com/DukeRupert/custodybuddy/internal/export"
	"github.com/DukeRupert/custodybuddy/internal/wizard"
)

// DefaultMaxUploadBytes caps one multipart evidence request.
const DefaultMaxUploadBytes int64 = 100 << 20

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// =============================================================================
// Handler Configuration
// =============================================================================

// IncidentHandler serves the wizard session API.
type IncidentHandler struct {
	sessions         *wizard.Manager
	maxUploadBytes   int64
	maxEvidenceBytes int64
	logger           *slog.Logger
}

// NewIncidentHandler creates a new IncidentHandler. maxEvidenceBytes is the
// per-file ceiling; larger files are reported as rejected without reading
// their bytes.
func NewIncidentHandler(sessions *wizard.Manager, maxUploadBytes, maxEvidenceBytes int64, logger *slog.Logger) *IncidentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if maxEvidenceBytes <= 0 {
		maxEvidenceBytes = evidence.DefaultMaxBytes
	}
	return &IncidentHandler{
		sessions:         sessions,
		maxUploadBytes:   maxUploadBytes,
		maxEvidenceBytes: maxEvidenceBytes,
		logger:           logger,
	}
}

// RegisterRoutes registers all incident routes on the provided ServeMux.
func (h *IncidentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/incidents", h.Create)
	mux.HandleFunc("GET /api/incidents/{id}", h.Show)
	mux.HandleFunc("PATCH /api/incidents/{id}", h.Update)
	mux.HandleFunc("DELETE /api/incidents/{id}", h.Reset)

	mux.HandleFunc("POST /api/incidents/{id}/next", h.Next)
	mux.HandleFunc("POST /api/incidents/{id}/back", h.Back)
	mux.HandleFunc("POST /api/incidents/{id}/new", h.NewReport)

	mux.HandleFunc("POST /api/incidents/{id}/evidence", h.UploadEvidence)
	mux.HandleFunc("PATCH /api/incidents/{id}/evidence/{eid}", h.UpdateEvidence)
	mux.HandleFunc("DELETE /api/incidents/{id}/evidence/{eid}", h.RemoveEvidence)

	mux.HandleFunc("POST /api/incidents/{id}/report", h.Generate)
	mux.HandleFunc("GET /api/incidents/{id}/export", h.Export)
	mux.HandleFunc("GET /api/incidents/{id}/print", h.Print)
}

// session resolves the {id} path value. On failure it writes the error
// response and returns nil.
func (h *IncidentHandler) session(w http.ResponseWriter, r *http.Request) *wizard.Session {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("incident.get", "Invalid incident ID."))
		return nil
	}

	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return nil
	}
	return s
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Create handles POST /api/incidents.
func (h *IncidentHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, s.State())
}

// Show handles GET /api/incidents/{id}.
func (h *IncidentHandler) Show(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// Update handles PATCH /api/incidents/{id}. Only the fields present in the
// body change.
func (h *IncidentHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "incident.update"

	s := h.session(w, r)
	if s == nil {
		return
	}

	var patch domain.IncidentPatch
	if err := decodeJSON(w, r, &patch, 1<<20); err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Request body must be a JSON object of record fields."))
		return
	}

	s.Patch(r.Context(), patch)
	writeJSON(w, http.StatusOK, s.State())
}

// Reset handles DELETE /api/incidents/{id}: the record, evidence blobs and
// saved draft are all cleared.
func (h *IncidentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.Reset(r.Context())
	writeJSON(w, http.StatusOK, s.State())
}

// NewReport handles POST /api/incidents/{id}/new and returns the state of
// the replacement session.
func (h *IncidentHandler) NewReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("incident.new", "Invalid incident ID."))
		return
	}

	s, err := h.sessions.NewReport(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.State())
}

// =============================================================================
// Navigation
// =============================================================================

// Next handles POST /api/incidents/{id}/next. A step that does not validate
// yields 422 with the field errors.
func (h *IncidentHandler) Next(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	if err := s.Next(r.Context()); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// Back handles POST /api/incidents/{id}/back.
func (h *IncidentHandler) Back(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.Back(r.Context())
	writeJSON(w, http.StatusOK, s.State())
}

// =============================================================================
// Evidence
// =============================================================================

// UploadEvidence handles POST /api/incidents/{id}/evidence. Files come from
// the "files" form field. The response lists what was added and rejected.
func (h *IncidentHandler) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	const op = "incident.upload_evidence"

	s := h.session(w, r)
	if s == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(w, r, h.logger, domain.TooLarge(op, "Upload is too large."))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, "Failed to parse form."))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No files uploaded."))
		return
	}

	files := make([]evidence.FileUpload, 0, len(headers))
	for _, fh := range headers {
		upload, err := h.readUpload(fh)
		if err != nil {
			h.logger.Error("failed to read uploaded file", "error", err, "filename", fh.Filename)
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "Failed to read uploaded file."))
			return
		}
		files = append(files, upload)
	}

	result := s.AddEvidence(r.Context(), files)

	h.logger.Info("evidence upload completed",
		"session_id", s.ID(),
		"added", len(result.Added),
		"rejected", len(result.Rejected),
	)

	writeJSON(w, http.StatusOK, result)
}

// readUpload loads one multipart file. Bytes of a file over the per-file
// ceiling are not read; the pipeline rejects it by size.
func (h *IncidentHandler) readUpload(fh *multipart.FileHeader) (evidence.FileUpload, error) {
	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	upload := evidence.FileUpload{
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
	}
	if fh.Size > h.maxEvidenceBytes {
		return upload, nil
	}

	f, err := fh.Open()
	if err != nil {
		return upload, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return upload, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	upload.Data = data
	return upload, nil
}

// evidenceUpdate is the body of PATCH /api/incidents/{id}/evidence/{eid}.
type evidenceUpdate struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// UpdateEvidence handles PATCH /api/incidents/{id}/evidence/{eid}.
func (h *IncidentHandler) UpdateEvidence(w http.ResponseWriter, r *http.Request) {
	const op = "incident.update_evidence"

	s := h.session(w, r)
	if s == nil {
		return
	}

	var body evidenceUpdate
	if err := decodeJSON(w, r, &body, 64<<10); err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EINVALID, op, `Request body must be {"field", "value"}.`))
		return
	}

	if err := s.UpdateEvidence(r.PathValue("eid"), body.Field, body.Value); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// RemoveEvidence handles DELETE /api/incidents/{id}/evidence/{eid}.
func (h *IncidentHandler) RemoveEvidence(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	if err := s.RemoveEvidence(r.Context(), r.PathValue("eid")); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// =============================================================================
// Report
// =============================================================================

// Generate handles POST /api/incidents/{id}/report. The cached report is
// returned unless the record changed or retry=true.
func (h *IncidentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("retry"))
	if _, err := s.Generate(r.Context(), force); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// Export handles GET /api/incidents/{id}/export as a download.
func (h *IncidentHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.document(w, r, export.Export, "attachment")
}

// Print handles GET /api/incidents/{id}/print; the page prints itself.
func (h *IncidentHandler) Print(w http.ResponseWriter, r *http.Request) {
	h.document(w, r, export.Print, "inline")
}

type renderFunc func(ctx context.Context, report *domain.ReportResult, rec domain.IncidentRecord) (*export.Result, error)

func (h *IncidentHandler) document(w http.ResponseWriter, r *http.Request, render renderFunc, disposition string) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	result, err := render(r.Context(), s.Report(), s.Record())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
}

// =============================================================================
// Helpers
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
