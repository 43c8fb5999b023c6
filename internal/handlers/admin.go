package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/internal/ratelimit"
	"github.com/ratewarden/ratewarden/internal/repository"
	"github.com/ratewarden/ratewarden/internal/violations"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// HeaderAdminToken carries the shared secret for the admin API.
const HeaderAdminToken = "X-Admin-Token"

// Error codes returned by the admin API.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeFlushDisabled      = "FLUSH_DISABLED"
	CodeAuditDisabled      = "AUDIT_DISABLED"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Code   string       `json:"code,omitempty"`
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BlockRequest is the body of POST /admin/blocks.
type BlockRequest struct {
	IP       string `json:"ip" validate:"required,ip"`
	Duration string `json:"duration,omitempty"`
}

// BlockResponse describes a block record.
type BlockResponse struct {
	IP        string  `json:"ip"`
	Key       string  `json:"key"`
	Blocked   bool    `json:"blocked"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// CounterResponse reports the value under a tag.
type CounterResponse struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// FlushResponse reports how many keys a flush removed.
type FlushResponse struct {
	Deleted int `json:"deleted"`
}

// ViolationQuery holds the filters of GET /admin/violations.
type ViolationQuery struct {
	IP    string `query:"ip" validate:"omitempty,ip"`
	Kind  string `query:"kind" validate:"omitempty,oneof=rate_limited blocked"`
	Since string `query:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit int    `query:"limit" validate:"min=0,max=1000"`
}

// ViolationsResponse lists audit entries, newest first.
type ViolationsResponse struct {
	Violations []violations.Violation `json:"violations"`
	Count      int                    `json:"count"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	Token                string
	AllowFlush           bool
	DefaultBlockDuration time.Duration
	Violations           repository.ViolationRepository // nil when the audit store is off
	Logger               *logger.Logger
	Now                  func() time.Time
}

// AdminHandler serves operator endpoints over the limiter and the audit log.
type AdminHandler struct {
	limiter  *ratelimit.Limiter
	cfg      AdminConfig
	validate *validator.Validate
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(limiter *ratelimit.Limiter, cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultBlockDuration <= 0 {
		cfg.DefaultBlockDuration = ratelimit.DefaultBlockDuration
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"json", "query"} {
			if name, _, _ := strings.Cut(fld.Tag.Get(key), ","); name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return &AdminHandler{limiter: limiter, cfg: cfg, validate: v}
}

// Routes registers the admin endpoints on r behind the token guard.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Use(h.RequireToken)

	r.Post("/blocks", h.CreateBlock)
	r.Get("/blocks/{ip}", h.GetBlock)
	r.Get("/counters/{tag}", h.GetCounter)
	r.Delete("/counters/{tag}", h.DeleteCounter)
	r.Get("/actions/{tag}", h.GetActions)
	r.Post("/flush", h.Flush)
	r.Get("/violations", h.ListViolations)
}

// RequireToken rejects requests whose X-Admin-Token does not match.
// An empty configured token rejects everything.
func (h *AdminHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderAdminToken)
		if h.cfg.Token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "missing or invalid admin token",
				Code:  CodeUnauthorized,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateBlock handles POST /admin/blocks.
func (h *AdminHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  CodeInvalidRequest,
		})
		return
	}
	if !h.valid(w, &req) {
		return
	}

	d := h.cfg.DefaultBlockDuration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "request validation failed",
				Code:   CodeValidationFailed,
				Fields: []FieldError{{Field: "duration", Message: "must be a positive duration such as 30m or 24h"}},
			})
			return
		}
		d = parsed
	}

	if err := h.limiter.Block(r.Context(), req.IP, d); err != nil {
		h.storeFailure(w, "block", err)
		return
	}
	metrics.RecordBlockCreated()

	ip := ratelimit.NormalizeIP(req.IP)
	expires := h.cfg.Now().Add(d).UTC().Format(time.RFC3339)
	h.cfg.Logger.Info("address blocked by admin", "ip", ip, "duration", d.String())

	writeJSON(w, http.StatusCreated, BlockResponse{
		IP:        ip,
		Key:       ratelimit.BlockKey(ip),
		Blocked:   true,
		ExpiresAt: &expires,
	})
}

// GetBlock handles GET /admin/blocks/{ip}.
func (h *AdminHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathParam(w, r, "ip")
	if !ok {
		return
	}

	blocked, err := h.limiter.IsBlocked(r.Context(), ip)
	if err != nil {
		h.storeFailure(w, "block lookup", err)
		return
	}

	normalized := ratelimit.NormalizeIP(ip)
	writeJSON(w, http.StatusOK, BlockResponse{
		IP:      normalized,
		Key:     ratelimit.BlockKey(normalized),
		Blocked: blocked,
	})
}

// GetCounter handles GET /admin/counters/{tag}.
func (h *AdminHandler) GetCounter(w http.ResponseWriter, r *http.Request) {
	tag, ok := pathParam(w, r, "tag")
	if !ok {
		return
	}

	count, err := h.limiter.Count(r.Context(), tag)
	if err != nil {
		h.storeFailure(w, "count", err)
		return
	}
	writeJSON(w, http.StatusOK, CounterResponse{Tag: tag, Count: count})
}

// DeleteCounter handles DELETE /admin/counters/{tag}.
func (h *AdminHandler) DeleteCounter(w http.ResponseWriter, r *http.Request) {
	tag, ok := pathParam(w, r, "tag")
	if !ok {
		return
	}

	if err := h.limiter.Clear(r.Context(), tag); err != nil {
		h.storeFailure(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetActions handles GET /admin/actions/{tag}.
func (h *AdminHandler) GetActions(w http.ResponseWriter, r *http.Request) {
	tag, ok := pathParam(w, r, "tag")
	if !ok {
		return
	}

	count, err := h.limiter.CountActions(r.Context(), tag)
	if err != nil {
		h.storeFailure(w, "count actions", err)
		return
	}
	writeJSON(w, http.StatusOK, CounterResponse{Tag: tag, Count: count})
}

// Flush handles POST /admin/flush. It is refused unless AllowFlush is set.
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AllowFlush {
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error: "flush is disabled in this environment",
			Code:  CodeFlushDisabled,
		})
		return
	}

	n, err := h.limiter.FlushAll(r.Context())
	if err != nil {
		h.storeFailure(w, "flush", err)
		return
	}
	h.cfg.Logger.Warn("rate limiter namespace flushed", "deleted", n)
	writeJSON(w, http.StatusOK, FlushResponse{Deleted: n})
}

// ListViolations handles GET /admin/violations.
func (h *AdminHandler) ListViolations(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Violations == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "violation audit store is not configured",
			Code:  CodeAuditDisabled,
		})
		return
	}

	q, err := parseViolationQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  CodeInvalidRequest,
		})
		return
	}
	if !h.valid(w, &q) {
		return
	}

	filter := repository.ViolationFilter{
		IP:    q.IP,
		Kind:  violations.Kind(q.Kind),
		Limit: q.Limit,
	}
	if q.Since != "" {
		// Format already checked by the validator.
		filter.Since, _ = time.Parse(time.RFC3339, q.Since)
	}

	list, err := h.cfg.Violations.Recent(r.Context(), filter)
	if err != nil {
		h.cfg.Logger.Error("failed to list violations", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list violations",
			Code:  CodeInternal,
		})
		return
	}
	if list == nil {
		list = []violations.Violation{}
	}
	writeJSON(w, http.StatusOK, ViolationsResponse{Violations: list, Count: len(list)})
}

func parseViolationQuery(values url.Values) (ViolationQuery, error) {
	q := ViolationQuery{
		IP:    values.Get("ip"),
		Kind:  values.Get("kind"),
		Since: values.Get("since"),
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, errors.New("invalid value for limit")
		}
		q.Limit = n
	}
	return q, nil
}

// valid runs struct validation and writes a 400 listing every failed field.
func (h *AdminHandler) valid(w http.ResponseWriter, dest any) bool {
	err := h.validate.Struct(dest)
	if err == nil {
		return true
	}

	var fields []FieldError
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			fields = append(fields, FieldError{Field: e.Field(), Message: fieldMessage(e.Tag(), e.Param())})
		}
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "request validation failed",
		Code:   CodeValidationFailed,
		Fields: fields,
	})
	return false
}

func fieldMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "ip":
		return "must be a valid IP address"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of: " + param
	case "datetime":
		return "must be an RFC 3339 timestamp"
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

// storeFailure maps a limiter error to 503 when the store is down, 500 otherwise.
func (h *AdminHandler) storeFailure(w http.ResponseWriter, op string, err error) {
	h.cfg.Logger.Error("admin "+op+" failed", "error", err)

	if ratelimit.IsStorageUnavailable(err) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "rate limit store unavailable",
			Code:  CodeStorageUnavailable,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "internal error",
		Code:  CodeInternal,
	})
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil || v == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid " + name,
			Code:  CodeInvalidRequest,
		})
		return "", false
	}
	return v, true
}
