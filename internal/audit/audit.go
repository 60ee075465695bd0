// Package audit records data-changing chat actions to an append-only log and
// serves filtered, paginated queries over it for the admin surface.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/lahorneada/supportchat/internal/constants"
	"github.com/lahorneada/supportchat/internal/domain"
)

// Entities and actions recorded by the chat core.
const (
	EntityChat    = "chat"
	EntityMessage = "message"

	ActionCreate  = "create"
	ActionClose   = "close"
	ActionMessage = "message"
)

// Recorder writes and queries audit entries.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRecorder creates a Recorder sharing the chat store's database.
func NewRecorder(db *gorm.DB, log *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: log.WithGroup("audit")}
}

// Record appends an entry. Audit failures are logged and swallowed: the
// underlying business operation has already succeeded and must not be
// rolled back or failed because of the log.
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditEntry) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.logger.Error("Failed to record audit entry",
			"error", err,
			"entity", entry.Entity,
			"action", entry.Action,
			"record_id", entry.RecordID)
	}
}

// ListOptions filters and paginates an audit query. Page is 1-based.
type ListOptions struct {
	Entity   string
	Action   string
	RecordID uint
	Page     int
	Limit    int
}

// ListResult is one page of audit entries plus paging metadata.
type ListResult struct {
	Entries    []domain.AuditEntry `json:"data"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalPages int                 `json:"total_pages"`
}

// List returns entries newest first, filtered by any non-zero option fields.
func (r *Recorder) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = constants.DefaultAuditPageSize
	}
	if opts.Limit > constants.MaxAuditPageSize {
		opts.Limit = constants.MaxAuditPageSize
	}

	q := r.db.WithContext(ctx).Model(&domain.AuditEntry{})
	if opts.Entity != "" {
		q = q.Where("entity = ?", opts.Entity)
	}
	if opts.Action != "" {
		q = q.Where("action = ?", opts.Action)
	}
	if opts.RecordID != 0 {
		q = q.Where("record_id = ?", opts.RecordID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	var entries []domain.AuditEntry
	err := q.Order("created_at DESC, id DESC").
		Offset((opts.Page - 1) * opts.Limit).
		Limit(opts.Limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}

	totalPages := int((total + int64(opts.Limit) - 1) / int64(opts.Limit))
	return &ListResult{
		Entries:    entries,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages,
	}, nil
}

// Stats summarizes the log by action and entity.
type Stats struct {
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
	ByEntity map[string]int64 `json:"by_entity"`
}

type groupCount struct {
	Key   string
	Count int64
}

// Stats aggregates entry counts for the admin dashboard.
func (r *Recorder) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByAction: make(map[string]int64),
		ByEntity: make(map[string]int64),
	}

	if err := r.db.WithContext(ctx).Model(&domain.AuditEntry{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	var byAction []groupCount
	err := r.db.WithContext(ctx).Model(&domain.AuditEntry{}).
		Select("action AS key, COUNT(*) AS count").
		Group("action").
		Scan(&byAction).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating audit entries by action: %w", err)
	}
	for _, gc := range byAction {
		stats.ByAction[gc.Key] = gc.Count
	}

	var byEntity []groupCount
	err = r.db.WithContext(ctx).Model(&domain.AuditEntry{}).
		Select("entity AS key, COUNT(*) AS count").
		Group("entity").
		Scan(&byEntity).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating audit entries by entity: %w", err)
	}
	for _, gc := range byEntity {
		stats.ByEntity[gc.Key] = gc.Count
	}

	return stats, nil
}
