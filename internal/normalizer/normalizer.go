// Package normalizer maps loosely structured pipeline payloads onto
// models.LogRecord. Several pipeline versions feed the same endpoint, so each
// logical field is resolved from an ordered list of candidate paths.
package normalizer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secureflow/backend/internal/models"
	"github.com/valyala/fastjson"
	"gorm.io/datatypes"
)

// ErrUnusablePayload is returned when the payload is not a JSON object.
var ErrUnusablePayload = errors.New("payload is not a JSON object")

// path is a sequence of object keys; most candidates are a single key.
type path []string

func p(keys ...string) path { return keys }

// fieldRule resolves one logical field from the first matching candidate.
type fieldRule struct {
	name       string
	candidates []path
	isString   bool
	apply      func(r *models.LogRecord, v *fastjson.Value)
}

var (
	keyCandidates = []path{p("key"), p("id"), p("log_id"), p("logId"), p("_id"), p("meta", "log_id")}

	learnEnabledCandidates   = []path{p("learnEnabled"), p("learn_enabled"), p("ai_learn_enabled")}
	learnCompletedCandidates = []path{p("learnCompleted"), p("learn_completed"), p("ai_learn_completed")}
	finalRiskCandidates      = []path{p("finalRiskForLearning"), p("final_risk_for_learning"), p("ai_final_risk")}
)

// rules lists every non-key field. Order inside candidates is priority order.
var rules = []fieldRule{
	{name: "source", isString: true,
		candidates: []path{p("source"), p("log_source"), p("origin")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Source = stringOf(v) }},
	{name: "system", isString: true,
		candidates: []path{p("system"), p("system_name"), p("host")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.System = stringOf(v) }},
	{name: "env", isString: true,
		candidates: []path{p("env"), p("environment")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Env = stringOf(v) }},
	{name: "risk", isString: true,
		candidates: []path{p("risk"), p("final_risk"), p("risk_level"), p("riskLevel"), p("risk_l2"), p("risk_l1"), p("ai_risk")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Risk = stringOf(v) }},
	{name: "incidentCategory", isString: true,
		candidates: []path{p("incidentCategory"), p("incident_category"), p("category"), p("meta", "incident_category")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.IncidentCategory = stringOf(v) }},
	{name: "title", isString: true,
		candidates: []path{p("title"), p("summary"), p("subject")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Title = stringOf(v) }},
	{name: "text", isString: true,
		candidates: []path{p("text"), p("summary"), p("detail"), p("message"), p("log_detail")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Text = stringOf(v) }},
	{name: "logDetail", isString: true,
		candidates: []path{p("logDetail"), p("log_detail"), p("redactedLog"), p("Log_Detail"), p("raw_log")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.LogDetail = stringOf(v) }},
	{name: "piiSummary", isString: true,
		candidates: []path{p("piiSummary"), p("pii_regex_summary"), p("pii_summary")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.PIISummary = stringOf(v) }},
	{name: "riskReason", isString: true,
		candidates: []path{p("riskReason"), p("risk_reason_l2"), p("risk_reason_l1"), p("risk_reason"), p("detail")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.RiskReason = stringOf(v) }},
	{name: "recommendation", isString: true,
		candidates: []path{p("recommendation_l2"), p("recommendation")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Recommendation = stringOf(v) }},
	{name: "piiFound",
		candidates: []path{p("piiFound"), p("pii_found"), p("pii_regex_found")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.PIIFound = boolOf(v) }},
	{name: "piiTypes",
		candidates: []path{p("piiTypes"), p("pii_types"), p("pii_regex_types")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.PIITypes = listOf(v) }},
	{name: "learnEnabled", candidates: learnEnabledCandidates,
		apply: func(r *models.LogRecord, v *fastjson.Value) { r.LearnEnabled = boolOf(v) }},
	{name: "learnCompleted", candidates: learnCompletedCandidates,
		apply: func(r *models.LogRecord, v *fastjson.Value) { r.LearnCompleted = boolOf(v) }},
	{name: "finalRiskForLearning", isString: true, candidates: finalRiskCandidates,
		apply: func(r *models.LogRecord, v *fastjson.Value) { r.FinalRiskForLearning = optionalString(v) }},
	{name: "meta",
		candidates: []path{p("meta"), p("metadata")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.Meta = rawOf(v) }},
	{name: "processingTimeMs",
		candidates: []path{p("processingTimeMs"), p("processing_time_ms"), p("processing_ms"), p("latency_ms")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.ProcessingTimeMs = numberOf(v) }},
	{name: "isGarbage",
		candidates: []path{p("isGarbage"), p("is_garbage"), p("garbage")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.IsGarbage = boolOf(v) }},
	{name: "garbageReason", isString: true,
		candidates: []path{p("garbageReason"), p("garbage_reason")},
		apply:      func(r *models.LogRecord, v *fastjson.Value) { r.GarbageReason = optionalString(v) }},
}

// Normalizer turns raw payloads into records. It is safe for concurrent use.
type Normalizer struct {
	parsers fastjson.ParserPool
	now     func() time.Time
	newID   func() string
}

// New returns a Normalizer that synthesizes fallback keys from the wall clock
// and a random UUID.
func New() *Normalizer {
	return &Normalizer{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Normalize resolves every field of raw, filling defaults for anything absent.
// It fails only when raw is not a JSON object.
func (n *Normalizer) Normalize(raw []byte) (models.LogRecord, error) {
	var rec models.LogRecord
	err := n.withObject(raw, func(v *fastjson.Value) {
		rec.Key = firstString(v, keyCandidates, false)
		if rec.Key == "" {
			rec.Key = n.SynthesizeKey()
		}
		for _, rule := range rules {
			if fv := lookup(v, rule.candidates, !rule.isString); fv != nil {
				rule.apply(&rec, fv)
			}
		}
	})
	if err != nil {
		return models.LogRecord{}, err
	}
	ApplyDefaults(&rec)
	return rec, nil
}

// Merge applies only the fields present in raw onto base. Present means the
// key exists with a non-null value; an explicit empty string clears a field.
// Key fields in raw are ignored.
func (n *Normalizer) Merge(base models.LogRecord, raw []byte) (models.LogRecord, error) {
	rec := base
	err := n.withObject(raw, func(v *fastjson.Value) {
		for _, rule := range rules {
			if fv := lookup(v, rule.candidates, true); fv != nil {
				rule.apply(&rec, fv)
			}
		}
	})
	if err != nil {
		return base, err
	}
	return rec, nil
}

// LearnPatch extracts the learning-state fields from raw.
func (n *Normalizer) LearnPatch(raw []byte) (models.LearnPatch, error) {
	var patch models.LearnPatch
	err := n.withObject(raw, func(v *fastjson.Value) {
		if fv := lookup(v, learnEnabledCandidates, true); fv != nil {
			b := boolOf(fv)
			patch.LearnEnabled = &b
		}
		if fv := lookup(v, learnCompletedCandidates, true); fv != nil {
			b := boolOf(fv)
			patch.LearnCompleted = &b
		}
		if fv := lookup(v, finalRiskCandidates, false); fv != nil {
			patch.FinalRiskForLearning = optionalString(fv)
		}
	})
	return patch, err
}

// SynthesizeKey builds a fallback identifier. The random part is a full UUID
// so concurrent fallbacks in the same millisecond do not collide.
func (n *Normalizer) SynthesizeKey() string {
	return fmt.Sprintf("log-%d-%s", n.now().UnixMilli(), n.newID())
}

// ApplyDefaults fills the sentinel values for absent provenance and labels.
func ApplyDefaults(r *models.LogRecord) {
	if r.Source == "" {
		r.Source = models.DefaultSource
	}
	if r.System == "" {
		r.System = models.DefaultSystem
	}
	if r.Env == "" {
		r.Env = models.DefaultEnv
	}
	if r.Risk == "" {
		r.Risk = models.DefaultRisk
	}
	if r.IncidentCategory == "" {
		r.IncidentCategory = models.DefaultCategory
	}
	if r.Title == "" {
		r.Title = r.Text
	}
}

func (n *Normalizer) withObject(raw []byte, fn func(v *fastjson.Value)) error {
	parser := n.parsers.Get()
	defer n.parsers.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnusablePayload, err)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("%w: got %s", ErrUnusablePayload, v.Type())
	}
	fn(v)
	return nil
}

// lookup returns the first candidate value that is present and non-null.
// Unless allowEmpty is set, blank strings are skipped too.
func lookup(v *fastjson.Value, candidates []path, allowEmpty bool) *fastjson.Value {
	for _, c := range candidates {
		fv := v.Get(c...)
		if fv == nil || fv.Type() == fastjson.TypeNull {
			continue
		}
		if !allowEmpty && fv.Type() == fastjson.TypeString && strings.TrimSpace(string(fv.GetStringBytes())) == "" {
			continue
		}
		return fv
	}
	return nil
}

func firstString(v *fastjson.Value, candidates []path, allowEmpty bool) string {
	if fv := lookup(v, candidates, allowEmpty); fv != nil {
		return stringOf(fv)
	}
	return ""
}

func stringOf(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return strings.TrimSpace(string(v.GetStringBytes()))
	case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
		return v.String()
	default:
		return ""
	}
}

func optionalString(v *fastjson.Value) *string {
	s := stringOf(v)
	if s == "" {
		return nil
	}
	return &s
}

// boolOf coerces boolean-ish values; anything unrecognized is false.
func boolOf(v *fastjson.Value) bool {
	switch v.Type() {
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeNumber:
		return v.GetFloat64() != 0
	case fastjson.TypeString:
		switch strings.ToLower(strings.TrimSpace(string(v.GetStringBytes()))) {
		case "true", "1", "yes", "y", "on":
			return true
		}
	}
	return false
}

func numberOf(v *fastjson.Value) *float64 {
	switch v.Type() {
	case fastjson.TypeNumber:
		f := v.GetFloat64()
		return &f
	case fastjson.TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v.GetStringBytes())), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// listOf accepts either a JSON array of strings or a delimited string.
func listOf(v *fastjson.Value) models.DelimitedList {
	switch v.Type() {
	case fastjson.TypeArray:
		var out models.DelimitedList
		for _, item := range v.GetArray() {
			if s := stringOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case fastjson.TypeString:
		return models.ParseDelimitedList(string(v.GetStringBytes()))
	}
	return nil
}

// rawOf copies the value's JSON encoding so it outlives the parser.
func rawOf(v *fastjson.Value) datatypes.JSON {
	return datatypes.JSON(v.MarshalTo(nil))
}
