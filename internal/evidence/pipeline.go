// Package evidence implements the intake pipeline for files attached to an
// incident and the per-file AI relevance analysis.
//
// A Pipeline owns one session's evidence list. Accepted files are written
// to the blob store and analyzed in the background; analysis results are
// applied only if the item still exists at the same generation token.
package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/DukeRupert/custodybuddy/internal/domain"
	"github.com/DukeRupert/custodybuddy/internal/metrics"
	"github.com/DukeRupert/custodybuddy/internal/storage"
	"github.com/DukeRupert/custodybuddy/internal/worker"
)

// DefaultMaxBytes is the per-file ceiling when none is configured.
const DefaultMaxBytes int64 = 25 << 20

// Rejection reasons.
const (
	RejectType = "type"
	RejectSize = "size"
)

// ErrStale is returned by Payload when the item was removed or re-tokened.
var ErrStale = errors.New("evidence item is gone or stale")

// FileUpload is one file offered for intake.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Rejection names a file that was not accepted and why.
type Rejection struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// AddResult summarizes one AddFiles call.
type AddResult struct {
	Added         []domain.EvidenceItem `json:"added"`
	Rejected      []Rejection           `json:"rejected"`
	TotalSelected int                   `json:"totalSelected"`
}

// Enqueuer schedules background analysis of one item.
type Enqueuer interface {
	EnqueueAnalyzeEvidence(sessionID uuid.UUID, evidenceID string, token uint64, opts ...worker.EnqueueOption) (uuid.UUID, error)
}

// Config wires a Pipeline to its collaborators.
type Config struct {
	SessionID uuid.UUID
	Storage   storage.Storage // Optional; without it bytes stay in memory
	Queue     Enqueuer        // Optional; without it no analysis is scheduled
	MaxBytes  int64
	Logger    *slog.Logger

	// OnChange is called after every mutation, outside the pipeline lock.
	OnChange func()
}

// Pipeline manages the evidence list of one session.
type Pipeline struct {
	cfg Config

	mu        sync.Mutex
	items     []domain.EvidenceItem
	lastToken uint64
}

// NewPipeline creates a pipeline seeded with items, for example from a
// restored draft.
func NewPipeline(cfg Config, items []domain.EvidenceItem) *Pipeline {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}

	p := &Pipeline{cfg: cfg, items: append([]domain.EvidenceItem{}, items...)}
	for _, item := range p.items {
		if item.Token > p.lastToken {
			p.lastToken = item.Token
		}
	}
	return p
}

// Items returns a copy of the evidence list.
func (p *Pipeline) Items() []domain.EvidenceItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EvidenceItem{}, p.items...)
}

// =============================================================================
// Intake
// =============================================================================

// AddFiles validates and accepts files. The type is checked before the
// size. Accepted files are stored and queued for analysis; the call does
// not wait for analysis.
func (p *Pipeline) AddFiles(ctx context.Context, files []FileUpload) AddResult {
	result := AddResult{
		Added:         []domain.EvidenceItem{},
		Rejected:      []Rejection{},
		TotalSelected: len(files),
	}

	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = storage.DetectContentType("", f.Name, bytes.NewReader(f.Data))
		}

		if !storage.IsAllowedEvidenceType(contentType) {
			result.Rejected = append(result.Rejected, Rejection{File: f.Name, Reason: RejectType})
			metrics.EvidenceOffered("rejected_type")
			continue
		}

		size := f.Size
		if n := int64(len(f.Data)); n > size {
			size = n
		}
		if size > p.cfg.MaxBytes {
			result.Rejected = append(result.Rejected, Rejection{File: f.Name, Reason: RejectSize})
			metrics.EvidenceOffered("rejected_size")
			continue
		}

		item := domain.EvidenceItem{
			ID:       uuid.NewString(),
			Name:     f.Name,
			Size:     size,
			Category: domain.CategoryForMIME(contentType),
			Type:     contentType,
			Base64:   base64.StdEncoding.EncodeToString(f.Data),
		}
		item.StorageID = p.store(ctx, item, f.Data)

		result.Added = append(result.Added, item)
		metrics.EvidenceOffered("added")
	}

	if len(result.Added) == 0 {
		return result
	}

	p.mu.Lock()
	for i := range result.Added {
		p.lastToken++
		result.Added[i].Token = p.lastToken
		p.items = append(p.items, result.Added[i])
	}
	p.mu.Unlock()

	for _, item := range result.Added {
		p.schedule(item)
	}

	p.cfg.OnChange()
	return result
}

// store writes the bytes to the blob store and returns the key, or "" if
// the bytes must stay in memory.
func (p *Pipeline) store(ctx context.Context, item domain.EvidenceItem, data []byte) string {
	if p.cfg.Storage == nil {
		return ""
	}

	key := storage.EvidenceKey(p.cfg.SessionID, item.Name, item.Type)
	err := p.cfg.Storage.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		ContentType: item.Type,
		MaxSize:     p.cfg.MaxBytes,
	})
	if err != nil {
		p.cfg.Logger.Warn("failed to store evidence, keeping it in memory",
			"session_id", p.cfg.SessionID,
			"evidence_id", item.ID,
			"error", err,
		)
		return ""
	}
	return key
}

func (p *Pipeline) schedule(item domain.EvidenceItem) {
	if p.cfg.Queue == nil {
		return
	}
	if _, err := p.cfg.Queue.EnqueueAnalyzeEvidence(p.cfg.SessionID, item.ID, item.Token); err != nil {
		p.cfg.Logger.Warn("failed to schedule evidence analysis",
			"session_id", p.cfg.SessionID,
			"evidence_id", item.ID,
			"error", err,
		)
		p.ApplyAnalysis(item.ID, item.Token, TextAnalysisFailed)
	}
}

// ResumePending issues fresh tokens to every item still waiting for an
// analysis and queues it again. Earlier jobs for those items become stale.
// It returns how many items were queued.
func (p *Pipeline) ResumePending() int {
	if p.cfg.Queue == nil {
		return 0
	}

	var pending []domain.EvidenceItem
	p.mu.Lock()
	for i := range p.items {
		if p.items[i].AIAnalysis != "" {
			continue
		}
		p.lastToken++
		p.items[i].Token = p.lastToken
		pending = append(pending, p.items[i])
	}
	p.mu.Unlock()

	for _, item := range pending {
		p.schedule(item)
	}
	return len(pending)
}

// =============================================================================
// Mutation
// =============================================================================

// Remove drops the item and deletes its blob. Blob failures are logged.
// An analysis still in flight for the item will find it gone.
func (p *Pipeline) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	idx := p.indexOf(id)
	if idx < 0 {
		p.mu.Unlock()
		return domain.NotFound("evidence.remove", "evidence", id)
	}
	removed := p.items[idx]
	p.items = append(p.items[:idx:idx], p.items[idx+1:]...)
	p.mu.Unlock()

	p.deleteBlob(ctx, removed)
	p.cfg.OnChange()
	return nil
}

// RemoveAll drops every item and deletes their blobs best-effort.
func (p *Pipeline) RemoveAll(ctx context.Context) {
	p.mu.Lock()
	removed := p.items
	p.items = []domain.EvidenceItem{}
	p.mu.Unlock()

	for _, item := range removed {
		p.deleteBlob(ctx, item)
	}
	if len(removed) > 0 {
		p.cfg.OnChange()
	}
}

func (p *Pipeline) deleteBlob(ctx context.Context, item domain.EvidenceItem) {
	if p.cfg.Storage == nil || item.StorageID == "" {
		return
	}
	if err := p.cfg.Storage.Delete(ctx, item.StorageID); err != nil {
		p.cfg.Logger.Warn("failed to delete evidence blob",
			"session_id", p.cfg.SessionID,
			"evidence_id", item.ID,
			"storage_id", item.StorageID,
			"error", err,
		)
	}
}

// Update replaces one user-editable field of an item. Supported fields are
// "category" and "description".
func (p *Pipeline) Update(id, field, value string) error {
	const op = "evidence.update"

	p.mu.Lock()
	idx := p.indexOf(id)
	if idx < 0 {
		p.mu.Unlock()
		return domain.NotFound(op, "evidence", id)
	}

	switch field {
	case "category":
		category := domain.EvidenceCategory(value)
		if !category.IsValid() {
			p.mu.Unlock()
			return domain.Invalid(op, fmt.Sprintf("unknown evidence category %q", value))
		}
		p.items[idx].Category = category
	case "description":
		p.items[idx].Description = value
	default:
		p.mu.Unlock()
		return domain.Invalid(op, fmt.Sprintf("field %q cannot be updated", field))
	}
	p.mu.Unlock()

	p.cfg.OnChange()
	return nil
}

// ApplyAnalysis stores an analysis result. It is a no-op returning false
// when the item is gone or token is stale. Once analysis is in, the in-memory
// copy of the bytes is dropped if they are in the blob store.
func (p *Pipeline) ApplyAnalysis(id string, token uint64, text string) bool {
	p.mu.Lock()
	idx := p.indexOf(id)
	if idx < 0 || p.items[idx].Token != token {
		p.mu.Unlock()
		return false
	}
	p.items[idx].AIAnalysis = text
	if p.items[idx].StorageID != "" {
		p.items[idx].Base64 = ""
	}
	p.mu.Unlock()

	p.cfg.OnChange()
	return true
}

// Payload returns the item and its raw bytes for analysis. Bytes come from
// the in-memory copy or the blob store; nil bytes mean neither is
// available. ErrStale is returned if the item is gone or the token moved on.
func (p *Pipeline) Payload(ctx context.Context, id string, token uint64) (domain.EvidenceItem, []byte, error) {
	p.mu.Lock()
	idx := p.indexOf(id)
	if idx < 0 || p.items[idx].Token != token {
		p.mu.Unlock()
		return domain.EvidenceItem{}, nil, ErrStale
	}
	item := p.items[idx]
	p.mu.Unlock()

	if item.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(item.Base64)
		if err == nil {
			return item, data, nil
		}
		p.cfg.Logger.Warn("discarding undecodable evidence payload", "evidence_id", id, "error", err)
	}

	if item.StorageID == "" || p.cfg.Storage == nil {
		return item, nil, nil
	}

	rc, _, err := p.cfg.Storage.Get(ctx, item.StorageID)
	if err != nil {
		if storage.IsNotFound(err) {
			return item, nil, nil
		}
		return item, nil, fmt.Errorf("fetch evidence blob: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.cfg.MaxBytes+1))
	if err != nil {
		return item, nil, fmt.Errorf("read evidence blob: %w", err)
	}
	return item, data, nil
}

func (p *Pipeline) indexOf(id string) int {
	for i, item := range p.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
