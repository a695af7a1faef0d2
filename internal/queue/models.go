package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusIdle       Status = "idle"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusIdle,
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

// OpenStatuses are the statuses of entries that still have work ahead of them.
var OpenStatuses = []Status{StatusPending, StatusInProgress, StatusIdle}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Priority orders claimable entries. Stat is the most urgent.
type Priority string

const (
	PriorityStat   Priority = "stat"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ParsePriority converts a string into a known Priority.
func ParsePriority(value string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(value))); p {
	case PriorityStat, PriorityHigh, PriorityNormal:
		return p, true
	case "":
		return PriorityNormal, true
	default:
		return "", false
	}
}

// HighClass reports whether the priority counts against the pool's
// high-priority budget.
func (p Priority) HighClass() bool {
	return p == PriorityStat || p == PriorityHigh
}

// JobType selects the processor factory for an entry.
type JobType string

const (
	JobTypeReprocess JobType = "reprocess"
	JobTypeVerify    JobType = "verify"
	JobTypeCommand   JobType = "command"
)

// StorageState is the queue-facing state of a storage unit.
type StorageState string

const (
	StorageIdle               StorageState = "idle"
	StorageReprocessScheduled StorageState = "reprocess_scheduled"
	StorageDeleting           StorageState = "deleting"
)

// Entry is one unit of schedulable work.
type Entry struct {
	Key                string
	StorageKey         string
	ProcessorID        string
	Type               JobType
	Priority           Priority
	Status             Status
	ScheduledTime      time.Time
	ExpirationTime     time.Time
	FailureCount       int
	FailureDescription string
	LastUpdatedTime    time.Time
	CreatedTime        time.Time
	Data               string
}

// UpdatedBefore reports whether the entry was ever touched after insertion.
func (e *Entry) UpdatedBefore() bool {
	return e != nil && !e.LastUpdatedTime.IsZero()
}

// Clone returns a copy that can be mutated without affecting e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// NewEntry describes an entry to insert.
type NewEntry struct {
	Type           JobType
	StorageKey     string
	Priority       Priority
	Data           string
	ScheduledTime  time.Time
	ExpirationTime time.Time
	SubItems       []string
}

// SubItem is a file-level unit of work attached to an entry.
type SubItem struct {
	ID           int64
	EntryKey     string
	Path         string
	Failed       bool
	FailureCount int
}

// TypeProperties holds the per job type tuning loaded once at startup.
type TypeProperties struct {
	Type                 JobType
	MaxBatchSize         int
	MaxFailureCount      int
	MemoryLimited        bool
	FailureDelaySeconds  int
	PostponeDelaySeconds int
	ExpireDelaySeconds   int
	ProcessDelaySeconds  int
	DeleteDelaySeconds   int
	AlertOnFailure       bool
}

// DefaultTypeProperties is used for types without a stored row.
func DefaultTypeProperties(jobType JobType) TypeProperties {
	return TypeProperties{
		Type:                 jobType,
		MaxBatchSize:         -1,
		MaxFailureCount:      3,
		FailureDelaySeconds:  180,
		PostponeDelaySeconds: 60,
		ExpireDelaySeconds:   3600,
		ProcessDelaySeconds:  5,
		DeleteDelaySeconds:   60,
	}
}

func (p TypeProperties) FailureDelay() time.Duration {
	return time.Duration(p.FailureDelaySeconds) * time.Second
}

func (p TypeProperties) PostponeDelay() time.Duration {
	return time.Duration(p.PostponeDelaySeconds) * time.Second
}

func (p TypeProperties) ExpireDelay() time.Duration {
	return time.Duration(p.ExpireDelaySeconds) * time.Second
}

func (p TypeProperties) ProcessDelay() time.Duration {
	return time.Duration(p.ProcessDelaySeconds) * time.Second
}

func (p TypeProperties) DeleteDelay() time.Duration {
	return time.Duration(p.DeleteDelaySeconds) * time.Second
}

// Storage is a unit of stored data that entries operate on.
type Storage struct {
	Key           string
	Path          string
	QueueState    StorageState
	SeriesCount   int
	InstanceCount int
	LastUpdated   time.Time
}

// SeriesCount is the stored instance count of one series inside a storage unit.
type SeriesCount struct {
	StorageKey    string
	SeriesUID     string
	InstanceCount int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	Path          string
	SizeBytes     int64
	SchemaVersion int
	MissingTables []string
	IntegrityOK   bool
	Entries       int
	Storage       int
}

// OK reports whether the database is current and intact.
func (h DatabaseHealth) OK() bool {
	return h.SchemaVersion == schemaVersion && len(h.MissingTables) == 0 && h.IntegrityOK
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Waiting    int
	InProgress int
	Failed     int
	Completed  int
}
