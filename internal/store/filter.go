package store

import (
	"strings"
	"time"

	"github.com/secureflow/backend/internal/models"
	"github.com/valyala/fastjson"
)

// Filter narrows Count. Zero-valued fields match everything.
type Filter struct {
	Risk           string
	RiskEmpty      bool
	Category       string
	PIIFound       *bool
	LearnEnabled   *bool
	LearnCompleted *bool
	// LearnQueue selects records flagged for training and not yet learned.
	LearnQueue bool
	Since      time.Time
}

// Bool is a helper for the pointer fields of Filter.
func Bool(b bool) *bool { return &b }

// Match evaluates the filter in memory.
func (f Filter) Match(r models.LogRecord) bool {
	if f.Risk != "" && r.Risk != f.Risk {
		return false
	}
	if f.RiskEmpty && strings.TrimSpace(r.Risk) != "" {
		return false
	}
	if f.Category != "" && r.IncidentCategory != f.Category {
		return false
	}
	if f.PIIFound != nil && r.PIIFound != *f.PIIFound {
		return false
	}
	if f.LearnEnabled != nil && r.LearnEnabled != *f.LearnEnabled {
		return false
	}
	if f.LearnCompleted != nil && r.LearnCompleted != *f.LearnCompleted {
		return false
	}
	if f.LearnQueue && !r.InLearnQueue() {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// matchKB evaluates a KB filter in memory. The category also matches the
// incident_category key inside Meta, which older curation tools wrote.
func matchKB(f models.KBFilter, item models.KBItem) bool {
	if f.Risk != "" && item.Risk != f.Risk {
		return false
	}
	if f.Category != "" && item.IncidentCategory != f.Category {
		if len(item.Meta) == 0 || fastjson.GetString(item.Meta, "incident_category") != f.Category {
			return false
		}
	}
	return true
}
