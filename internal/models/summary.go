package models

import "time"

// Summary is the all-time aggregate shown on the dashboard header.
type Summary struct {
	Total            int64 `json:"total"`
	High             int64 `json:"high"`
	PIICases         int64 `json:"piiCases"`
	LearnQueue       int64 `json:"learnQueue"`
	Learned          int64 `json:"learned"`
	Exfiltration     int64 `json:"exfiltration"`
	CredentialAbuse  int64 `json:"credentialAbuse"`
	Misconfiguration int64 `json:"misconfiguration"`
	KBCount          int64 `json:"kbCount"`
}

// WindowMetrics are operational statistics over a trailing time window.
type WindowMetrics struct {
	WindowMinutes   int       `json:"windowMinutes"`
	TotalLast       int64     `json:"totalLast"`
	HighLast        int64     `json:"highLast"`
	GarbageCount    int64     `json:"garbageCount"`
	AvgProcessingMs float64   `json:"avgProcessingMs"`
	QueuePending    int64     `json:"queuePending"`
	LearnedLast     int64     `json:"learnedLast"`
	GeneratedAt     time.Time `json:"generatedAt"`
}
