package analysis

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/aibot/internal/platform/auth"
	"github.com/ehr/aibot/internal/platform/middleware"
	"github.com/ehr/aibot/internal/report"
	"github.com/ehr/aibot/pkg/pagination"
)

type Handler struct {
	svc            *Service
	sampleFallback bool
}

// NewHandler creates a Handler. With sampleFallback set, requests without
// EMR data are analyzed against the built-in sample EMR.
func NewHandler(svc *Service, sampleFallback bool) *Handler {
	return &Handler{svc: svc, sampleFallback: sampleFallback}
}

// RegisterRoutes mounts the versioned API on api and the legacy analyze
// route on legacy.
func (h *Handler) RegisterRoutes(api *echo.Group, legacy *echo.Group) {
	analyze := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
	analyze.POST("/analyze", h.Analyze)
	analyze.POST("/analyze/pdf", h.AnalyzePDF)

	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleAuditor))
	read.GET("/analyses", h.ListAnalyses)
	read.GET("/analyses/:id", h.GetAnalysis)
	read.GET("/analyses/:id/pdf", h.GetAnalysisPDF)

	legacy.POST("/analyze/", h.Analyze, auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
}

func (h *Handler) parse(c echo.Context) (Request, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return Request{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON")
	}
	req, err := ParseRequest(body, h.sampleFallback)
	switch {
	case errors.Is(err, ErrInvalidID):
		return Request{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return Request{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON")
	}
	return req, nil
}

func (h *Handler) analyze(c echo.Context) (*Response, error) {
	req, err := h.parse(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	resp, err := h.svc.Analyze(ctx, req, auth.SubjectFromContext(ctx))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if resp.AnalysisID != nil {
		c.Set(middleware.AnalysisIDKey, resp.AnalysisID.String())
	}
	return resp, nil
}

func (h *Handler) Analyze(c echo.Context) error {
	resp, err := h.analyze(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) AnalyzePDF(c echo.Context) error {
	resp, err := h.analyze(c)
	if err != nil {
		return err
	}
	data, err := h.svc.RenderPDF(resp)
	if err != nil {
		return pdfError(err)
	}
	return sendPDF(c, pdfName(resp.CaseID, resp.AnalysisID), data)
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetAnalysisPDF(c echo.Context) error {
	rec, err := h.record(c)
	if err != nil {
		return err
	}
	data, err := h.svc.RenderRecordPDF(rec)
	if err != nil {
		return pdfError(err)
	}
	return sendPDF(c, pdfName(rec.CaseID, &rec.ID), data)
}

func (h *Handler) ListAnalyses(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		CaseID:    strings.TrimSpace(c.QueryParam("case_id")),
		PatientID: strings.TrimSpace(c.QueryParam("patient_id")),
	}
	items, total, err := h.svc.ListAnalyses(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return archiveError(err)
	}
	resp := pagination.NewResponse(items, total, pg)
	resp.Links = pg.Links(c.Request().URL.Path, c.QueryParams(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) record(c echo.Context) (*Record, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetAnalysis(c.Request().Context(), id)
	if err != nil {
		return nil, archiveError(err)
	}
	return rec, nil
}

func archiveError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	case errors.Is(err, ErrArchiveDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return internalError(err)
	}
}

func pdfError(err error) error {
	if errors.Is(err, report.ErrNoFont) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "PDF export unavailable: no font configured")
	}
	return internalError(err)
}

// internalError keeps err for the error handler's log and answers with the
// generic status text.
func internalError(err error) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
}

func pdfName(caseID *string, id *uuid.UUID) string {
	name := "analysis"
	if caseID != nil && *caseID != "" {
		name += "-" + sanitizeFilename(*caseID)
	} else if id != nil {
		name += "-" + id.String()
	}
	return name + ".pdf"
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func sendPDF(c echo.Context, filename string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, "application/pdf", data)
}
