package records

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a workflow record.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAvatarProcessing   Status = "avatar_processing"
	StatusEnhancerProcessing Status = "enhancer_processing"
	StatusPosting            Status = "posting"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusAvatarProcessing,
	StatusEnhancerProcessing,
	StatusPosting,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus validates a user-supplied status string.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Statuses returns all known statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ProcessingStatuses returns the statuses the reconciler scans for stuck work.
func ProcessingStatuses() []Status {
	return []Status{StatusAvatarProcessing, StatusEnhancerProcessing}
}

// Record is a single content workflow tracked from article claim to publish.
type Record struct {
	ID        string
	Family    string
	ArticleID string
	Status    Status

	Script       string
	Caption      string
	Title        string
	Persona      string
	Platforms    []string
	ScheduleMode string

	AvatarJobID       string
	EnhancerProjectID string
	AvatarMediaURL    string
	FinalMediaURL     string
	PostID            string

	ErrorMessage string
	RetryCount   int

	ExportRequestedAt *time.Time
	StatusChangedAt   *time.Time
	LastRetryAt       *time.Time
	CompletedAt       *time.Time
	FailedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StageReference returns the external job reference for the record's current
// processing stage, or empty when the record is not in a processing stage.
func (r *Record) StageReference() string {
	switch r.Status {
	case StatusAvatarProcessing:
		return r.AvatarJobID
	case StatusEnhancerProcessing:
		return r.EnhancerProjectID
	default:
		return ""
	}
}

// EffectiveStatusChangedAt returns the status change timestamp, falling back
// to updated_at for rows written before status_changed_at existed.
func (r *Record) EffectiveStatusChangedAt() (time.Time, bool) {
	if r.StatusChangedAt != nil {
		return *r.StatusChangedAt, false
	}
	return r.UpdatedAt, true
}

// Terminal reports whether the record has reached a final state.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Stats summarizes record counts by status.
type Stats struct {
	Total    int64
	ByStatus map[Status]int64
}

// DatabaseHealth captures diagnostic information about the record database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	RecordCount      int64
	Error            string
}
