package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/aibot/internal/emr"
	"github.com/ehr/aibot/internal/platform/cache"
	"github.com/ehr/aibot/internal/report"
	"github.com/ehr/aibot/internal/vocab"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestService(opts ...Option) *Service {
	v := vocab.Default()
	n := emr.NewNormalizer(emr.Config{
		ForbiddenTerms: v.ForbiddenTerms,
		Now:            func() time.Time { return fixedNow },
	})
	return NewService(n, report.NewGenerator(v), v.Version, opts...)
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}

// ── Fakes ──

type fakeSummarizer struct {
	text  string
	err   error
	calls int
	input interface{}
}

func (f *fakeSummarizer) Provider() string { return "fake" }

func (f *fakeSummarizer) Summarize(_ context.Context, clinical interface{}) (string, error) {
	f.calls++
	f.input = clinical
	return f.text, f.err
}

type failingArchive struct{}

func (failingArchive) Save(context.Context, *Record) error { return errors.New("db down") }

func (failingArchive) GetByID(context.Context, uuid.UUID) (*Record, error) {
	return nil, errors.New("db down")
}

func (failingArchive) List(context.Context, ListFilter, int, int) ([]*Record, int, error) {
	return nil, 0, errors.New("db down")
}

type countingCache struct {
	*cache.Cache
	sets int
}

func (c *countingCache) SetJSON(ctx context.Context, key string, v interface{}) error {
	c.sets++
	return c.Cache.SetJSON(ctx, key, v)
}

// ── Analyze ──

func TestService_AnalyzeSample(t *testing.T) {
	svc := newTestService()
	req := Request{CaseID: strPtr("case-1"), EMR: SampleInput(), Sample: true}

	resp, err := svc.Analyze(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Status != report.StatusSuccess {
		t.Errorf("expected status success, got %s", resp.Status)
	}
	if *resp.CaseID != "case-1" || resp.PatientID != nil {
		t.Errorf("unexpected ids %v %v", resp.CaseID, resp.PatientID)
	}
	for _, flag := range []string{emr.RiskLongStandingDiabetes, emr.RiskSingleSeeingEye, emr.RiskPoorGlycemicControl} {
		if !contains(resp.Meta.RiskFlags, flag) {
			t.Errorf("expected risk flag %q in %v", flag, resp.Meta.RiskFlags)
		}
	}
	if resp.AIOutput.ConfidenceLevel != report.ConfidenceMedium {
		t.Errorf("expected medium confidence, got %s", resp.AIOutput.ConfidenceLevel)
	}
	if !resp.Meta.GeneratedAt.Equal(fixedNow) {
		t.Errorf("expected generated_at %s, got %s", fixedNow, resp.Meta.GeneratedAt)
	}
	if resp.AnalysisID != nil {
		t.Error("expected no analysis id without an archive")
	}
	if resp.Narrative != "" {
		t.Error("expected no narrative without a summarizer")
	}
}

func TestService_AnalyzeEmpty(t *testing.T) {
	resp, err := newTestService().Analyze(context.Background(), Request{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := resp.AIOutput
	if out.ConfidenceLevel != report.ConfidenceLow || out.Summary != "" {
		t.Errorf("expected low confidence and empty summary, got %+v", out)
	}
	if len(out.SuggestedNextSteps) != 1 || out.SuggestedNextSteps[0] != report.DefaultAction {
		t.Errorf("expected default next step, got %v", out.SuggestedNextSteps)
	}
}

func TestService_AnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestService().Analyze(ctx, Request{}, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestService_Archive(t *testing.T) {
	archive := NewMemoryArchive(0)
	svc := newTestService(WithArchive(archive))

	resp, err := svc.Analyze(context.Background(), Request{CaseID: strPtr("c9"), EMR: SampleInput()}, "dr-who")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AnalysisID == nil {
		t.Fatal("expected analysis id from archive")
	}

	rec, err := svc.GetAnalysis(context.Background(), *resp.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if rec.RequestedBy != "dr-who" || *rec.CaseID != "c9" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(rec.InputHash) != 64 {
		t.Errorf("expected sha256 input hash, got %q", rec.InputHash)
	}
	if rec.PayloadVersion != emr.PayloadVersion {
		t.Errorf("expected payload version %s, got %s", emr.PayloadVersion, rec.PayloadVersion)
	}
	if rec.Report.Audit == nil {
		t.Error("expected archived report to carry the audit trail")
	}

	items, total, err := svc.ListAnalyses(context.Background(), ListFilter{CaseID: "c9"}, 10, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Errorf("expected one listed analysis, got %d/%d err=%v", len(items), total, err)
	}
}

func TestService_ArchiveFailureDoesNotFail(t *testing.T) {
	svc := newTestService(WithArchive(failingArchive{}))
	resp, err := svc.Analyze(context.Background(), Request{EMR: SampleInput()}, "")
	if err != nil {
		t.Fatalf("expected archive failure to be tolerated, got %v", err)
	}
	if resp.AnalysisID != nil {
		t.Error("expected no analysis id when archive write fails")
	}
}

func TestService_ArchiveDisabled(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetAnalysis(context.Background(), uuid.New()); !errors.Is(err, ErrArchiveDisabled) {
		t.Errorf("expected ErrArchiveDisabled, got %v", err)
	}
	if _, _, err := svc.ListAnalyses(context.Background(), ListFilter{}, 10, 0); !errors.Is(err, ErrArchiveDisabled) {
		t.Errorf("expected ErrArchiveDisabled, got %v", err)
	}
}

func TestService_Cache(t *testing.T) {
	cc := &countingCache{Cache: cache.New(cache.NewMemoryStore(), "analysis", time.Minute)}
	archive := NewMemoryArchive(0)
	svc := newTestService(WithCache(cc), WithArchive(archive))
	req := Request{CaseID: strPtr("c1"), EMR: SampleInput()}

	first, err := svc.Analyze(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Analyze(context.Background(), Request{CaseID: strPtr("c1"), EMR: SampleInput()}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cc.sets != 1 {
		t.Errorf("expected one cache write, got %d", cc.sets)
	}
	if second.AnalysisID == nil || *second.AnalysisID != *first.AnalysisID {
		t.Error("expected cached response to carry the original analysis id")
	}
	if _, total, _ := archive.List(context.Background(), ListFilter{}, 10, 0); total != 1 {
		t.Errorf("expected a single archived analysis, got %d", total)
	}

	if _, err := svc.Analyze(context.Background(), Request{CaseID: strPtr("c2"), EMR: SampleInput()}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cc.sets != 2 {
		t.Errorf("expected a different case id to miss the cache, got %d writes", cc.sets)
	}
}

func TestService_Summarizer(t *testing.T) {
	sum := &fakeSummarizer{text: "Narrative"}
	svc := newTestService(WithSummarizer(sum))

	resp, _ := svc.Analyze(context.Background(), Request{EMR: SampleInput()}, "")
	if resp.Narrative != "Narrative" {
		t.Errorf("expected narrative, got %q", resp.Narrative)
	}
	if sum.calls != 1 || sum.input == nil {
		t.Errorf("expected one summarizer call with input, got %d", sum.calls)
	}

	failing := &fakeSummarizer{err: errors.New("quota exceeded")}
	resp, err := newTestService(WithSummarizer(failing)).Analyze(context.Background(), Request{EMR: SampleInput()}, "")
	if err != nil {
		t.Fatalf("expected summarizer failure to be tolerated, got %v", err)
	}
	if resp.Narrative != "" {
		t.Errorf("expected empty narrative on failure, got %q", resp.Narrative)
	}
}

func TestService_ForbiddenTerm(t *testing.T) {
	in := emr.Input{History: map[string]interface{}{
		"templates": []interface{}{map[string]interface{}{
			"forms": []interface{}{map[string]interface{}{
				"data": map[string]interface{}{"notes": "Please start insulin now"},
			}},
		}},
	}}
	resp, _ := newTestService().Analyze(context.Background(), Request{EMR: in}, "")

	found := false
	for _, w := range resp.AIOutput.SafetyWarnings {
		if strings.Contains(strings.ToLower(w), "start insulin") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a start insulin safety warning, got %v", resp.AIOutput.SafetyWarnings)
	}
}

func TestPDFName(t *testing.T) {
	id := uuid.MustParse("6f1c1f0e-4b7a-4c55-9a53-0e7d0d3c2b11")
	if got := pdfName(strPtr("C/12 x"), &id); got != "analysis-C_12_x.pdf" {
		t.Errorf("unexpected name %q", got)
	}
	if got := pdfName(nil, &id); got != "analysis-"+id.String()+".pdf" {
		t.Errorf("unexpected name %q", got)
	}
	if got := pdfName(nil, nil); got != "analysis.pdf" {
		t.Errorf("unexpected name %q", got)
	}
}
