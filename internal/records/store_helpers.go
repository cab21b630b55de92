package records

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const recordColumns = "id, family, article_id, status, script, caption, title, persona, platforms_json, schedule_mode, avatar_job_id, enhancer_project_id, avatar_media_url, final_media_url, post_id, error_message, retry_count, export_requested_at, status_changed_at, last_retry_at, completed_at, failed_at, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id              string
		family          string
		articleID       sql.NullString
		statusStr       string
		script          sql.NullString
		caption         sql.NullString
		title           sql.NullString
		persona         sql.NullString
		platformsJSON   sql.NullString
		scheduleMode    sql.NullString
		avatarJobID     sql.NullString
		enhancerProject sql.NullString
		avatarMediaURL  sql.NullString
		finalMediaURL   sql.NullString
		postID          sql.NullString
		errorMessage    sql.NullString
		retryCount      sql.NullInt64
		exportRaw       sql.NullString
		statusChangedAt sql.NullString
		lastRetryRaw    sql.NullString
		completedRaw    sql.NullString
		failedRaw       sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&family,
		&articleID,
		&statusStr,
		&script,
		&caption,
		&title,
		&persona,
		&platformsJSON,
		&scheduleMode,
		&avatarJobID,
		&enhancerProject,
		&avatarMediaURL,
		&finalMediaURL,
		&postID,
		&errorMessage,
		&retryCount,
		&exportRaw,
		&statusChangedAt,
		&lastRetryRaw,
		&completedRaw,
		&failedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:                id,
		Family:            family,
		ArticleID:         articleID.String,
		Status:            Status(statusStr),
		Script:            script.String,
		Caption:           caption.String,
		Title:             title.String,
		Persona:           persona.String,
		ScheduleMode:      scheduleMode.String,
		AvatarJobID:       avatarJobID.String,
		EnhancerProjectID: enhancerProject.String,
		AvatarMediaURL:    avatarMediaURL.String,
		FinalMediaURL:     finalMediaURL.String,
		PostID:            postID.String,
		ErrorMessage:      errorMessage.String,
		RetryCount:        int(retryCount.Int64),
	}

	if platformsJSON.Valid && strings.TrimSpace(platformsJSON.String) != "" {
		if err := json.Unmarshal([]byte(platformsJSON.String), &record.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms for record %s: %w", id, err)
		}
	}

	record.ExportRequestedAt = parseOptionalTime(exportRaw)
	record.StatusChangedAt = parseOptionalTime(statusChangedAt)
	record.LastRetryAt = parseOptionalTime(lastRetryRaw)
	record.CompletedAt = parseOptionalTime(completedRaw)
	record.FailedAt = parseOptionalTime(failedRaw)
	if ts := parseOptionalTime(createdRaw); ts != nil {
		record.CreatedAt = *ts
	}
	if ts := parseOptionalTime(updatedRaw); ts != nil {
		record.UpdatedAt = *ts
	}

	return record, nil
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	trimmed := strings.TrimSpace(value.String)
	if trimmed == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func encodePlatforms(platforms []string) (any, error) {
	if len(platforms) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(platforms)
	if err != nil {
		return nil, fmt.Errorf("encode platforms: %w", err)
	}
	return string(data), nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
