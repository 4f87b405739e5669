package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/pixtools/internal/config"
	"github.com/fairyhunter13/pixtools/internal/domain"
	"github.com/fairyhunter13/pixtools/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg    config.Config
	Submit *usecase.SubmitService
	Status *usecase.StatusService

	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
	S3Check     func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, submit *usecase.SubmitService, status *usecase.StatusService, dbCheck, redisCheck, brokerCheck, s3Check func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status, DBCheck: dbCheck, RedisCheck: redisCheck, BrokerCheck: brokerCheck, S3Check: s3Check}
}

// Sniffed content types accepted for upload. The set matches the decoders the
// worker registers.
func allowedUploadMIME(m string) bool {
	switch strings.ToLower(m) {
	case "image/jpeg", "image/png", "image/webp", "image/avif":
		return true
	}
	return false
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || a == "*/*" || strings.Contains(a, "application/json")
}

// ProcessHandler accepts a multipart image submission and enqueues the
// requested operations. Replies 202 with the job id.
func (s *Server) ProcessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "NOT_ACCEPTABLE", Message: "only application/json responses are supported"}})
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrValidation), nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.Cfg.MaxUploadBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrTooLarge, s.Cfg.MaxUploadBytes), map[string]any{"max_bytes": s.Cfg.MaxUploadBytes})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrValidation), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: image read: %v", domain.ErrValidation, err), nil)
			return
		}
		if len(data) == 0 {
			writeError(w, r, fmt.Errorf("%w: image is empty", domain.ErrValidation), nil)
			return
		}

		// Sniff the actual content; the client-declared type is not trusted.
		mime := mimetype.Detect(data)
		if !allowedUploadMIME(mime.String()) {
			writeError(w, r, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, mime.String()), map[string]any{"mime": mime.String(), "filename": header.Filename})
			return
		}

		ops, err := parseOperations(r.FormValue("operations"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		params, err := parseOperationParams(r.FormValue("operation_params"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		req := struct {
			Operations []string `validate:"required,min=1,dive,oneof=jpg png webp avif denoise metadata"`
			WebhookURL string   `validate:"omitempty,url"`
		}{Operations: ops, WebhookURL: r.FormValue("webhook_url")}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrValidation), verrs)
			return
		}

		res, err := s.Submit.Submit(r.Context(), usecase.SubmitInput{
			Filename:       header.Filename,
			ContentType:    mime.String(),
			Data:           data,
			Operations:     ops,
			Params:         params,
			WebhookURL:     req.WebhookURL,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": res.JobID, "status": string(res.Status)})
	}
}

// JobHandler returns job status with freshly presigned download URLs.
func (s *Server) JobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "NOT_ACCEPTABLE", Message: "only application/json responses are supported"}})
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrValidation), nil)
			return
		}
		view, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildJobEnvelope(view))
	}
}

// BuildJobEnvelope renders a job view for the read endpoint. Result URLs,
// metadata and the error message are always present, empty until the job
// produces them.
func BuildJobEnvelope(view usecase.JobView) map[string]any {
	job := view.Job
	urls := view.ResultURLs
	if urls == nil {
		urls = map[string]string{}
	}
	md := job.ExifMetadata
	if md == nil {
		md = map[string]any{}
	}
	m := map[string]any{
		"job_id":            job.ID,
		"status":            string(job.Status),
		"operations":        job.Operations,
		"original_filename": job.OriginalFilename,
		"error_message":     job.ErrorMessage,
		"result_urls":       urls,
		"metadata":          md,
		"created_at":        job.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":        job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if view.ArchiveURL != "" {
		m["archive_url"] = view.ArchiveURL
	}
	return m
}

// LivezHandler reports process liveness.
func (s *Server) LivezHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type healthCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

func runChecks(ctx context.Context, named map[string]func(ctx context.Context) error, order []string) ([]healthCheck, bool) {
	checks := make([]healthCheck, 0, len(order))
	ok := true
	for _, name := range order {
		probe := named[name]
		if probe == nil {
			continue
		}
		if err := probe(ctx); err != nil {
			checks = append(checks, healthCheck{Name: name, OK: false, Details: err.Error()})
			ok = false
		} else {
			checks = append(checks, healthCheck{Name: name, OK: true})
		}
	}
	return checks, ok
}

// ReadyzHandler probes the dependencies a request cannot be served without.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks, ok := runChecks(ctx, map[string]func(context.Context) error{
			"db": s.DBCheck, "redis": s.RedisCheck, "broker": s.BrokerCheck,
		}, []string{"db", "redis", "broker"})
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthHandler is the full dependency probe, object storage included.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		checks, ok := runChecks(ctx, map[string]func(context.Context) error{
			"db": s.DBCheck, "redis": s.RedisCheck, "broker": s.BrokerCheck, "s3": s.S3Check,
		}, []string{"db", "redis", "broker", "s3"})
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// parseOperations accepts either a JSON array or a comma-separated list.
func parseOperations(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: operations field required", domain.ErrValidation)
	}
	if strings.HasPrefix(raw, "[") {
		var ops []string
		if err := json.Unmarshal([]byte(raw), &ops); err != nil {
			return nil, fmt.Errorf("%w: operations must be a JSON string array", domain.ErrValidation)
		}
		return ops, nil
	}
	var ops []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ops = append(ops, p)
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: operations field required", domain.ErrValidation)
	}
	return ops, nil
}

func parseOperationParams(raw string) (map[string]domain.OperationParams, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var params map[string]domain.OperationParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("%w: operation_params must be a JSON object", domain.ErrValidation)
	}
	return params, nil
}
