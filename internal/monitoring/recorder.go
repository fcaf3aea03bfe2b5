// internal/monitoring/recorder.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/sirupsen/logrus"
)

// Accepted submission timestamps. Outside this range UnixNano overflows.
var (
	minTimestamp = time.Unix(0, 0).UTC()
	maxTimestamp = time.Date(2262, 1, 1, 0, 0, 0, 0, time.UTC)
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrKindMismatch      = errors.New("submission does not match status")
)

// SubmissionBase holds the fields every reported record carries.
type SubmissionBase struct {
	ServiceGroup string     `json:"service_group"`
	ServiceName  string     `json:"service_name"`
	Status       string     `json:"status"`
	Hostname     string     `json:"hostname,omitempty"`
	LocalIP      string     `json:"local_ip,omitempty"`
	PublicIP     string     `json:"public_ip,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// Submission is one externally reported record. It is exactly one of
// HealthCheckSubmission, RecoverySubmission or NotificationSubmission.
type Submission interface {
	Base() SubmissionBase
	Kind() database.RecordKind
	Payload() database.Payload
}

type HealthCheckSubmission struct {
	SubmissionBase
	ResponseTime *float64              `json:"response_time,omitempty"`
	URL          *string               `json:"url,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ExtraData    map[string]interface{} `json:"extra_data,omitempty"`
}

func (s HealthCheckSubmission) Base() SubmissionBase { return s.SubmissionBase }
func (s HealthCheckSubmission) Kind() database.RecordKind { return database.KindCheck }

// Payload merges metrics and extra data; extra data wins on key clashes.
func (s HealthCheckSubmission) Payload() database.Payload {
	fields := make(map[string]interface{}, len(s.Metrics)+len(s.ExtraData))
	for k, v := range s.Metrics {
		fields[k] = v
	}
	for k, v := range s.ExtraData {
		fields[k] = v
	}
	return database.CheckPayload{Fields: fields}
}

type RecoverySubmission struct {
	SubmissionBase
	Stage                string     `json:"stage,omitempty"`
	Error                string     `json:"error,omitempty"`
	StartTime            *time.Time `json:"start_time,omitempty"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	StabilizationEndTime *time.Time `json:"stabilization_end_time,omitempty"`
}

func (s RecoverySubmission) Base() SubmissionBase { return s.SubmissionBase }
func (s RecoverySubmission) Kind() database.RecordKind { return database.KindRecovery }

func (s RecoverySubmission) Payload() database.Payload {
	p := database.RecoveryPayload{
		Stage:                s.Stage,
		Error:                s.Error,
		EndTime:              utcPtr(s.EndTime),
		StabilizationEndTime: utcPtr(s.StabilizationEndTime),
	}
	if s.StartTime != nil {
		p.StartTime = s.StartTime.UTC()
	}
	return p
}

// RecoveryCreate converts the submission into a tracker transition.
func (s RecoverySubmission) RecoveryCreate() RecoveryCreate {
	return RecoveryCreate{
		ServiceGroup:         s.ServiceGroup,
		ServiceName:          s.ServiceName,
		Status:               s.Status,
		Stage:                s.Stage,
		Error:                s.Error,
		Hostname:             s.Hostname,
		LocalIP:              s.LocalIP,
		PublicIP:             s.PublicIP,
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		StabilizationEndTime: s.StabilizationEndTime,
	}
}

type NotificationSubmission struct {
	SubmissionBase
	NotificationType string `json:"notification_type"`
	Error            string `json:"error,omitempty"`
}

func (s NotificationSubmission) Base() SubmissionBase { return s.SubmissionBase }
func (s NotificationSubmission) Kind() database.RecordKind { return database.KindNotification }

func (s NotificationSubmission) Payload() database.Payload {
	return database.NotificationPayload{NotificationType: s.NotificationType, Error: s.Error}
}

// LatestFilters narrows Recorder.Latest. Empty fields match everything.
type LatestFilters struct {
	Group    string
	Service  string
	PublicIP string
	Status   string
}

// Recorder appends externally reported records to the history.
type Recorder struct {
	store database.Store
	now   func() time.Time
}

func NewRecorder(store database.Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record validates the submission against its status and stores it.
func (r *Recorder) Record(ctx context.Context, sub Submission) (*database.HealthCheckRecord, error) {
	base := sub.Base()
	if base.ServiceGroup == "" || base.ServiceName == "" {
		return nil, fmt.Errorf("%w: service_group and service_name are required", ErrInvalidSubmission)
	}
	if kind := database.KindOf(base.Status); kind != sub.Kind() {
		return nil, fmt.Errorf("%w: status %q is a %s record, got %s", ErrKindMismatch, base.Status, kind, sub.Kind())
	}

	if ts := base.Timestamp; ts != nil && (ts.Before(minTimestamp) || !ts.Before(maxTimestamp)) {
		return nil, fmt.Errorf("%w: timestamp %s is out of range", ErrInvalidSubmission, ts.UTC().Format(time.RFC3339))
	}

	extra, err := database.EncodePayload(sub.Payload())
	if err != nil {
		return nil, err
	}

	ts := r.now().UTC()
	if base.Timestamp != nil {
		ts = base.Timestamp.UTC()
	}

	record := &database.HealthCheckRecord{
		Timestamp:    ts,
		Hostname:     base.Hostname,
		LocalIP:      base.LocalIP,
		PublicIP:     base.PublicIP,
		ServiceGroup: base.ServiceGroup,
		ServiceName:  base.ServiceName,
		Status:       base.Status,
		ExtraData:    extra,
	}
	switch hc := sub.(type) {
	case HealthCheckSubmission:
		record.ResponseTime, record.URL = hc.ResponseTime, hc.URL
	case *HealthCheckSubmission:
		record.ResponseTime, record.URL = hc.ResponseTime, hc.URL
	}

	if err := r.store.CreateHealthCheck(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	return record, nil
}

// Latest returns the newest record per (group, service, hostname).
func (r *Recorder) Latest(ctx context.Context, filters LatestFilters) ([]database.HealthCheckRecord, error) {
	rows, err := r.store.LatestHealthChecks(ctx, database.HealthCheckFilters{
		Group:   filters.Group,
		Service: filters.Service,
		Status:  filters.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query latest records: %w", err)
	}
	if filters.PublicIP == "" {
		return rows, nil
	}

	out := rows[:0]
	for _, row := range rows {
		if row.PublicIP == filters.PublicIP {
			out = append(out, row)
		}
	}
	return out, nil
}

// ReportedRecord is a stored record with its extra data decoded by kind.
type ReportedRecord struct {
	database.HealthCheckRecord
	Kind    string      `json:"kind"`
	Details interface{} `json:"details,omitempty"`
}

// Describe decodes the payload of each row. A row whose extra data does not
// decode keeps only the raw string.
func Describe(rows []database.HealthCheckRecord) []ReportedRecord {
	out := make([]ReportedRecord, 0, len(rows))
	for i := range rows {
		rec := ReportedRecord{HealthCheckRecord: rows[i], Kind: rows[i].Kind().String()}

		payload, err := rows[i].Payload()
		switch p := payload.(type) {
		case database.CheckPayload:
			if len(p.Fields) > 0 {
				rec.Details = p.Fields
			}
		case database.RecoveryPayload, database.NotificationPayload:
			rec.Details = p
		}
		if err != nil {
			logrus.WithError(err).WithField("id", rows[i].ID).Debug("Failed to decode record payload")
		}
		out = append(out, rec)
	}
	return out
}
