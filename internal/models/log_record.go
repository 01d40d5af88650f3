package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Conventional risk labels. The set is open; upstream may send others.
const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskSafe   = "Safe"
)

// Conventional incident categories.
const (
	CategoryExfiltration     = "exfiltration"
	CategoryCredentialAbuse  = "credential_abuse"
	CategoryMisconfiguration = "misconfiguration"
	CategoryMonitoring       = "monitoring"
)

// Defaults applied by the normalizer when a field is absent.
const (
	DefaultSource   = "UNKNOWN"
	DefaultSystem   = "UNKNOWN"
	DefaultEnv      = "lab"
	DefaultRisk     = RiskSafe
	DefaultCategory = CategoryMonitoring
)

// PIITypesDelimiter separates PII type tags in the persisted column.
const PIITypesDelimiter = ","

// LogRecord is one analyzed security-incident log, keyed by Key.
type LogRecord struct {
	Key              string `json:"key" gorm:"column:log_key;primaryKey;size:191"`
	Source           string `json:"source" gorm:"size:255"`
	System           string `json:"system" gorm:"size:255"`
	Env              string `json:"env" gorm:"size:64"`
	Risk             string `json:"risk" gorm:"size:32;index"`
	IncidentCategory string `json:"incidentCategory" gorm:"size:64;index"`
	Title            string `json:"title" gorm:"type:text"`
	Text             string `json:"text" gorm:"type:text"`

	// Dashboard display fields, round-tripped only.
	LogDetail      string `json:"logDetail,omitempty" gorm:"type:text"`
	PIISummary     string `json:"piiSummary,omitempty" gorm:"column:pii_summary;type:text"`
	RiskReason     string `json:"riskReason,omitempty" gorm:"type:text"`
	Recommendation string `json:"recommendation,omitempty" gorm:"type:text"`

	PIIFound bool          `json:"piiFound" gorm:"column:pii_found;index"`
	PIITypes DelimitedList `json:"piiTypes" gorm:"column:pii_types;type:text"`

	LearnEnabled         bool    `json:"learnEnabled" gorm:"index"`
	LearnCompleted       bool    `json:"learnCompleted" gorm:"index"`
	FinalRiskForLearning *string `json:"finalRiskForLearning,omitempty" gorm:"size:32"`

	Meta             datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb"`
	ProcessingTimeMs *float64       `json:"processingTimeMs,omitempty"`
	IsGarbage        bool           `json:"isGarbage"`
	GarbageReason    *string        `json:"garbageReason,omitempty" gorm:"type:text"`

	// Timestamps are set by the store's clock, not by GORM callbacks.
	CreatedAt time.Time `json:"createdAt" gorm:"index;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (LogRecord) TableName() string {
	return "log_records"
}

// InLearnQueue reports whether the record is flagged for training but not done yet.
func (r LogRecord) InLearnQueue() bool {
	return r.LearnEnabled && !r.LearnCompleted
}

// Garbage reports whether upstream marked the record as noise.
func (r LogRecord) Garbage() bool {
	return r.IsGarbage || r.GarbageReason != nil
}

// LearnPatch carries the learning-state fields a learn-completion update may touch.
// Nil fields are left as they are.
type LearnPatch struct {
	LearnEnabled         *bool   `json:"learnEnabled,omitempty"`
	LearnCompleted       *bool   `json:"learnCompleted,omitempty"`
	FinalRiskForLearning *string `json:"finalRiskForLearning,omitempty"`
}

// Apply copies the non-nil patch fields onto r.
func (p LearnPatch) Apply(r *LogRecord) {
	if p.LearnEnabled != nil {
		r.LearnEnabled = *p.LearnEnabled
	}
	if p.LearnCompleted != nil {
		r.LearnCompleted = *p.LearnCompleted
	}
	if p.FinalRiskForLearning != nil {
		v := *p.FinalRiskForLearning
		r.FinalRiskForLearning = &v
	}
}

// Empty reports whether the patch would change nothing.
func (p LearnPatch) Empty() bool {
	return p.LearnEnabled == nil && p.LearnCompleted == nil && p.FinalRiskForLearning == nil
}

// DelimitedList is an ordered list of tags that is persisted as a single
// delimited string and serialized as a JSON array.
type DelimitedList []string

// Value implements driver.Valuer.
func (l DelimitedList) Value() (driver.Value, error) {
	return strings.Join(l, PIITypesDelimiter), nil
}

// Scan implements sql.Scanner.
func (l *DelimitedList) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into DelimitedList", src)
	}
	*l = ParseDelimitedList(s)
	return nil
}

// MarshalJSON always emits an array, never null.
func (l DelimitedList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// String returns the persisted form.
func (l DelimitedList) String() string {
	return strings.Join(l, PIITypesDelimiter)
}

// ParseDelimitedList splits s on the delimiter, dropping blank entries.
func ParseDelimitedList(s string) DelimitedList {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, PIITypesDelimiter)
	out := make(DelimitedList, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
