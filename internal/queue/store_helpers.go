package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const taskColumns = "id, fingerprint, track_id, format, quality, band, status, attempt, max_attempts, error_kind, error_message, error_attempt, staging_path, output_path, batch_id, cancel_requested, progress_percent, progress_message, created_at, updated_at, last_heartbeat"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id               string
		fingerprint      string
		trackID          string
		format           string
		quality          string
		bandStr          string
		statusStr        string
		attempt          int
		maxAttempts      int
		errorKind        sql.NullString
		errorMessage     sql.NullString
		errorAttempt     int
		stagingPath      sql.NullString
		outputPath       sql.NullString
		batchID          sql.NullString
		cancelRequested  bool
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		createdRaw       string
		updatedRaw       string
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fingerprint,
		&trackID,
		&format,
		&quality,
		&bandStr,
		&statusStr,
		&attempt,
		&maxAttempts,
		&errorKind,
		&errorMessage,
		&errorAttempt,
		&stagingPath,
		&outputPath,
		&batchID,
		&cancelRequested,
		&progressPercent,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:              id,
		Fingerprint:     fingerprint,
		TrackID:         trackID,
		Format:          format,
		Quality:         quality,
		Band:            Band(bandStr),
		Status:          Status(statusStr),
		Attempt:         attempt,
		MaxAttempts:     maxAttempts,
		ErrorKind:       errorKind.String,
		ErrorMessage:    errorMessage.String,
		ErrorAttempt:    errorAttempt,
		StagingPath:     stagingPath.String,
		OutputPath:      outputPath.String,
		BatchID:         batchID.String,
		CancelRequested: cancelRequested,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			task.LastHeartbeat = &heartbeat
		}
	}

	return task, nil
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
