package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/aibot/internal/emr"
	"github.com/ehr/aibot/internal/platform/cache"
	"github.com/ehr/aibot/internal/platform/metrics"
	"github.com/ehr/aibot/internal/report"
	"github.com/ehr/aibot/internal/summarizer"
)

// ErrArchiveDisabled is returned by archive reads when no archive is wired.
var ErrArchiveDisabled = errors.New("analysis archive is disabled")

// Cache stores finished responses keyed by request hash.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}) error
}

// Service runs the normalization and report pipeline and coordinates the
// optional side collaborators. Only the pipeline is required; a failing
// archive, cache or summarizer is logged and never fails an analysis.
type Service struct {
	normalizer   *emr.Normalizer
	generator    *report.Generator
	vocabVersion string

	archive    Archive
	cache      Cache
	summarizer summarizer.Summarizer
	logger     zerolog.Logger
	fontPath   string
}

type Option func(*Service)

func WithArchive(a Archive) Option { return func(s *Service) { s.archive = a } }

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithSummarizer(sum summarizer.Summarizer) Option {
	return func(s *Service) { s.summarizer = sum }
}

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithFontPath sets the TTF font used for PDF export.
func WithFontPath(path string) Option { return func(s *Service) { s.fontPath = path } }

// NewService builds a Service. vocabVersion participates in cache keys so a
// vocabulary change never serves stale reports.
func NewService(n *emr.Normalizer, g *report.Generator, vocabVersion string, opts ...Option) *Service {
	s := &Service{
		normalizer:   n,
		generator:    g,
		vocabVersion: vocabVersion,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze normalizes the request EMR, generates the report and wraps it in
// the response envelope. requestedBy is the authenticated subject, if any.
func (s *Service) Analyze(ctx context.Context, req Request, requestedBy string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, keyErr := cache.Key(emr.PayloadVersion, s.vocabVersion, req.CaseID, req.PatientID, req.EMR)
	if keyErr != nil {
		s.logger.Warn().Err(keyErr).Msg("analysis cache key unavailable")
	}
	if resp := s.cached(ctx, key, keyErr); resp != nil {
		return resp, nil
	}

	start := time.Now()
	payload := s.normalizer.Normalize(req.EMR)
	rep := s.generator.Generate(payload)
	elapsed := time.Since(start)

	resp := &Response{
		Status:    rep.Status,
		CaseID:    req.CaseID,
		PatientID: req.PatientID,
		AIOutput:  rep.AIOutput,
		Meta:      payload.Meta,
	}

	meta := payload.Meta
	metrics.RecordAnalysis("computed", rep.AIOutput.ConfidenceLevel, elapsed)
	metrics.RecordRiskFlags(meta.RiskFlags)
	metrics.RecordForbiddenTerms(meta.Safety.ForbiddenTerms)
	metrics.RecordAudit(len(meta.Audit.Discarded), len(meta.Audit.Warnings))

	s.logger.Info().
		Str("case_id", deref(req.CaseID)).
		Bool("sample", req.Sample).
		Int("risk_flags", len(meta.RiskFlags)).
		Int("discarded", len(meta.Audit.Discarded)).
		Int("warnings", len(meta.Audit.Warnings)).
		Int("forbidden_terms", len(meta.Safety.ForbiddenTerms)).
		Str("confidence", rep.AIOutput.ConfidenceLevel).
		Dur("elapsed", elapsed).
		Msg("analysis completed")

	resp.Narrative = s.narrate(ctx, payload)
	resp.AnalysisID = s.store(ctx, key, resp, requestedBy)

	if s.cache != nil && keyErr == nil {
		if err := s.cache.SetJSON(ctx, key, resp); err != nil {
			s.logger.Warn().Err(err).Msg("analysis cache write failed")
		}
	}
	return resp, nil
}

func (s *Service) cached(ctx context.Context, key string, keyErr error) *Response {
	if s.cache == nil || keyErr != nil {
		return nil
	}
	var resp Response
	hit, err := s.cache.GetJSON(ctx, key, &resp)
	switch {
	case err != nil:
		metrics.RecordCache("error")
		s.logger.Warn().Err(err).Msg("analysis cache read failed")
		return nil
	case !hit:
		metrics.RecordCache("miss")
		return nil
	}
	metrics.RecordCache("hit")
	metrics.RecordAnalysis("cache", resp.AIOutput.ConfidenceLevel, 0)
	s.logger.Debug().Str("case_id", deref(resp.CaseID)).Msg("analysis served from cache")
	return &resp
}

// narrate asks the summarizer for a narrative of the clinical context.
func (s *Service) narrate(ctx context.Context, payload emr.NormalizedPayload) string {
	if s.summarizer == nil {
		return ""
	}
	input := struct {
		ClinicalContext emr.ClinicalContext `json:"clinical_context"`
		RiskFlags       []string            `json:"risk_flags"`
		ParsedLabs      []emr.ParsedLab     `json:"parsed_labs"`
	}{payload.ClinicalContext, payload.Meta.RiskFlags, payload.Meta.ParsedLabs}

	start := time.Now()
	text, err := s.summarizer.Summarize(ctx, input)
	metrics.RecordSummarizer(s.summarizer.Provider(), err, time.Since(start))
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", s.summarizer.Provider()).Msg("summarizer failed")
		return ""
	}
	return text
}

func (s *Service) store(ctx context.Context, key string, resp *Response, requestedBy string) *uuid.UUID {
	if s.archive == nil {
		return nil
	}
	rec := &Record{
		ID:             uuid.New(),
		CaseID:         resp.CaseID,
		PatientID:      resp.PatientID,
		InputHash:      key,
		PayloadVersion: resp.Meta.Version,
		RiskFlags:      resp.Meta.RiskFlags,
		Confidence:     resp.AIOutput.ConfidenceLevel,
		Report:         resp.Report(),
		Meta:           resp.Meta,
		RequestedBy:    requestedBy,
	}
	err := s.archive.Save(ctx, rec)
	metrics.RecordArchive("save", err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("analysis archive write failed")
		return nil
	}
	id := rec.ID
	return &id
}

// RenderPDF renders the report of resp.
func (s *Service) RenderPDF(resp *Response) ([]byte, error) {
	return report.RenderPDF(resp.Report(), report.PDFOptions{
		FontPath:    s.fontPath,
		GeneratedAt: resp.Meta.GeneratedAt,
	})
}

// RenderRecordPDF renders an archived report.
func (s *Service) RenderRecordPDF(rec *Record) ([]byte, error) {
	return report.RenderPDF(rec.Report, report.PDFOptions{
		FontPath:    s.fontPath,
		GeneratedAt: rec.CreatedAt,
	})
}

func (s *Service) GetAnalysis(ctx context.Context, id uuid.UUID) (*Record, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	rec, err := s.archive.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordArchive("get", err)
	}
	return rec, err
}

func (s *Service) ListAnalyses(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	if s.archive == nil {
		return nil, 0, ErrArchiveDisabled
	}
	items, total, err := s.archive.List(ctx, f, limit, offset)
	metrics.RecordArchive("list", err)
	return items, total, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
