package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/zstd"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/models"
	"github.com/secureflow/backend/internal/observability"
	"github.com/secureflow/backend/internal/store"
	"github.com/valyala/fastjson"
	"gorm.io/datatypes"
)

const (
	DefaultKBExamples = 3
	MaxKBExamples     = 100
)

// Export formats.
const (
	ExportJSON   = "json"
	ExportNDJSON = "ndjson"
)

// AddKBItemRequest is the body of a knowledge-base append.
type AddKBItemRequest struct {
	Text             string         `json:"text" validate:"notblank"`
	LogKey           *string        `json:"logKey,omitempty" validate:"omitempty,max=191"`
	Risk             string         `json:"risk" validate:"max=32"`
	IncidentCategory string         `json:"incidentCategory" validate:"max=64"`
	Category         string         `json:"category" validate:"max=64"`
	Notes            string         `json:"notes"`
	Meta             datatypes.JSON `json:"meta,omitempty"`
}

// ExportOptions selects the wire form of a KB export.
type ExportOptions struct {
	Format   string
	Compress bool
}

var kbValidate *validator.Validate

func init() {
	kbValidate = validator.New()
	_ = kbValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// KBService manages the append-only knowledge base.
type KBService struct {
	store   store.KBStore
	metrics *observability.Metrics
}

// NewKBService creates a new KB service. metrics may be nil.
func NewKBService(st store.KBStore, metrics *observability.Metrics) *KBService {
	return &KBService{store: st, metrics: metrics}
}

func validationErrorFrom(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "notblank":
		return &ValidationError{Field: field, Message: "must not be empty"}
	case "max":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %s characters", fe.Param())}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", fe.Tag())}
	}
}

// AddKBItem validates req and appends it. Nothing is stored on a validation error.
func (s *KBService) AddKBItem(ctx context.Context, req AddKBItemRequest) (models.KBItem, error) {
	if err := kbValidate.Struct(req); err != nil {
		return models.KBItem{}, validationErrorFrom(err)
	}
	if len(req.Meta) > 0 {
		if err := fastjson.ValidateBytes(req.Meta); err != nil {
			return models.KBItem{}, &ValidationError{Field: "meta", Message: "must be valid JSON"}
		}
	}

	item := models.KBItem{
		LogKey:           req.LogKey,
		Risk:             req.Risk,
		IncidentCategory: req.IncidentCategory,
		Text:             req.Text,
		Notes:            req.Notes,
		Meta:             req.Meta,
	}
	if item.IncidentCategory == "" {
		item.IncidentCategory = req.Category
	}
	if item.LogKey == nil && len(req.Meta) > 0 {
		if id := fastjson.GetString(req.Meta, "log_id"); id != "" {
			item.LogKey = &id
		}
	}

	stored, err := s.store.AddKBItem(ctx, item)
	if err != nil {
		logger.WithError(err, "kb_service").Error("Failed to add KB item")
		return models.KBItem{}, err
	}
	s.metrics.KBItemAdded()

	fields := map[string]interface{}{
		"kb_id":    stored.ID,
		"risk":     stored.Risk,
		"category": stored.IncidentCategory,
	}
	if stored.LogKey != nil {
		fields["log_key"] = *stored.LogKey
	}
	logger.Info("KB item added", fields)
	return stored, nil
}

// ListKBExamples returns the most recent matching items. limit defaults to
// three and is capped at MaxKBExamples.
func (s *KBService) ListKBExamples(ctx context.Context, category, risk string, limit int) ([]models.KBItem, error) {
	if limit <= 0 {
		limit = DefaultKBExamples
	}
	if limit > MaxKBExamples {
		limit = MaxKBExamples
	}
	return s.store.ListKBItems(ctx, models.KBFilter{Category: category, Risk: risk, Limit: limit})
}

// ExportKB returns every item, oldest first.
func (s *KBService) ExportKB(ctx context.Context) ([]models.KBItem, error) {
	return s.store.ExportKB(ctx)
}

// CountKB counts all KB items.
func (s *KBService) CountKB(ctx context.Context) (int64, error) {
	return s.store.CountKB(ctx, time.Time{})
}

// WriteExport streams the full KB to w as a JSON array or NDJSON,
// optionally zstd-compressed.
func (s *KBService) WriteExport(ctx context.Context, w io.Writer, opts ExportOptions) error {
	items, err := s.store.ExportKB(ctx)
	if err != nil {
		return err
	}

	out := w
	var zw *zstd.Encoder
	if opts.Compress {
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		out = zw
	}

	switch opts.Format {
	case "", ExportJSON:
		err = json.NewEncoder(out).Encode(items)
	case ExportNDJSON:
		enc := json.NewEncoder(out)
		for _, item := range items {
			if err = enc.Encode(item); err != nil {
				break
			}
		}
	default:
		err = &ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", opts.Format)}
	}

	if zw != nil {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ValidExportFormat reports whether format is accepted by WriteExport.
func ValidExportFormat(format string) bool {
	return format == "" || format == ExportJSON || format == ExportNDJSON
}
