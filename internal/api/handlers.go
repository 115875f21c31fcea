package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/simservice"
	"github.com/starford/rpfba/internal/worker"
)

const (
	maxUploadBytes = 256 << 20
	// ResultFilename is the attachment name of archive responses.
	ResultFilename = "rpFBA.tar"
	appName        = "rpFBA"
	appVersion     = "1.0"
)

// Service is what the handlers need from the simulation layer.
type Service interface {
	Simulate(ctx context.Context, req simservice.Request, input io.Reader, gem []byte, out io.Writer) (*batch.Summary, error)
	ListRuns(ctx context.Context, limit, offset int) ([]ledger.Run, int, error)
	GetRun(ctx context.Context, runID string) (*simservice.RunDetail, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc      Service
	defaults worker.Params
	now      func() time.Time
}

// NewHandler creates a Handler. defaults seed every query before its data
// document is applied.
func NewHandler(svc Service, defaults worker.Params) *Handler {
	return &Handler{svc: svc, defaults: defaults, now: time.Now}
}

// Stamp handles GET and POST /REST.
//
//	@Summary	Service identification
//	@Tags		rest
//	@Produce	json
//	@Success	200	{object}	Stamp
//	@Router		/REST [get]
func (h *Handler) Stamp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Stamp{
		App:     appName,
		Version: appVersion,
		Time:    h.now().Format(time.RFC3339),
		Status:  1,
	})
}

// Query handles POST /REST/Query (multipart/form-data). Parts: inputTar
// (model archive, or one SBML model when input_format is sbml), inSBML (the
// GEM) and data (JSON parameters, as a file or a form value).
//
//	@Summary	Merge and simulate every model of an archive
//	@Tags		rest
//	@Accept		multipart/form-data
//	@Produce	application/x-tar
//	@Success	200
//	@Failure	400	{object}	errResponse
//	@Failure	422	{object}	errResponse
//	@Security	BearerAuth
//	@Router		/REST/Query [post]
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("upload too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	input, err := formFile(r, "inputTar")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	gem, err := formFile(r, "inSBML")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	data, err := formData(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	req, err := simservice.DecodeRequest(h.defaults, data)
	if err != nil {
		writeError(w, "query", err)
		return
	}
	req.Source = "rest"

	var out bytes.Buffer
	sum, err := h.svc.Simulate(r.Context(), req, bytes.NewReader(input), gem, &out)
	if err != nil {
		writeError(w, "query", err)
		return
	}

	w.Header().Set("X-Run-Id", sum.RunID)
	w.Header().Set("X-Jobs-Completed", strconv.Itoa(len(sum.Completed)))
	w.Header().Set("X-Jobs-Skipped", strconv.Itoa(len(sum.Skipped)))
	if req.Format == simservice.FormatSBML {
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("Content-Disposition", `attachment; filename="rpFBA.sbml.xml"`)
	} else {
		w.Header().Set("Content-Type", "application/x-tar")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ResultFilename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = out.WriteTo(w)
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %q part", field)
	}
	defer f.Close()
	return readPart(f, field)
}

func readPart(f multipart.File, field string) ([]byte, error) {
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %q part: %w", field, err)
	}
	return b, nil
}

// formData accepts data as an uploaded file, as in the original client, or
// as a plain form value.
func formData(r *http.Request) ([]byte, error) {
	f, _, err := r.FormFile("data")
	if err == nil {
		defer f.Close()
		return readPart(f, "data")
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, fmt.Errorf("read %q part: %w", "data", err)
	}
	return []byte(r.FormValue("data")), nil
}

// ListRuns handles GET /REST/runs.
//
//	@Summary	List batch runs, newest first
//	@Tags		runs
//	@Produce	json
//	@Param		limit	query		int	false	"Page size"
//	@Param		offset	query		int	false	"Page offset"
//	@Success	200		{object}	RunListResponse
//	@Security	BearerAuth
//	@Router		/REST/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	runs, total, err := h.svc.ListRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// GetRun handles GET /REST/runs/{id}.
//
//	@Summary	Get a run and its jobs
//	@Tags		runs
//	@Produce	json
//	@Param		id	path		string	true	"Run id"
//	@Success	200	{object}	RunDetail
//	@Failure	404	{object}	errResponse
//	@Security	BearerAuth
//	@Router		/REST/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, "get run", fmt.Errorf("run id: %w", apperr.ErrNotFound))
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
