package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecordKind discriminates the three logical record types stored as
// HealthCheckRecord rows.
type RecordKind int

const (
	KindUnknown RecordKind = iota
	KindCheck
	KindRecovery
	KindNotification
)

func (k RecordKind) String() string {
	switch k {
	case KindCheck:
		return "check"
	case KindRecovery:
		return "recovery"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

var ErrUnknownRecordKind = errors.New("unknown record kind")

// KindOf maps a status value to its record kind.
func KindOf(status string) RecordKind {
	s := strings.ToLower(status)
	switch {
	case s == StatusUp || s == StatusDown:
		return KindCheck
	case strings.HasPrefix(s, "recovery_"):
		return KindRecovery
	case strings.HasPrefix(s, "notification_"):
		return KindNotification
	default:
		return KindUnknown
	}
}

// Payload is the decoded ExtraData of a record. Exactly one of
// CheckPayload, RecoveryPayload or NotificationPayload.
type Payload interface {
	Kind() RecordKind
}

// CheckPayload carries free-form probe diagnostics and reported metrics.
type CheckPayload struct {
	Fields map[string]interface{}
}

func (CheckPayload) Kind() RecordKind { return KindCheck }

type RecoveryPayload struct {
	Stage                string     `json:"stage"`
	Error                string     `json:"error"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time"`
	StabilizationEndTime *time.Time `json:"stabilization_end_time"`
}

func (RecoveryPayload) Kind() RecordKind { return KindRecovery }

type NotificationPayload struct {
	NotificationType string `json:"notification_type"`
	Error            string `json:"error"`
}

func (NotificationPayload) Kind() RecordKind { return KindNotification }

// Kind returns the record kind derived from the status.
func (r *HealthCheckRecord) Kind() RecordKind {
	return KindOf(r.Status)
}

// Payload decodes ExtraData into the variant selected by the status.
func (r *HealthCheckRecord) Payload() (Payload, error) {
	kind := r.Kind()
	switch kind {
	case KindCheck:
		p := CheckPayload{Fields: map[string]interface{}{}}
		if r.ExtraData != "" {
			if err := json.Unmarshal([]byte(r.ExtraData), &p.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode check payload: %w", err)
			}
		}
		return p, nil
	case KindRecovery:
		var p RecoveryPayload
		if r.ExtraData != "" {
			if err := json.Unmarshal([]byte(r.ExtraData), &p); err != nil {
				return nil, fmt.Errorf("failed to decode recovery payload: %w", err)
			}
		}
		if p.StartTime.IsZero() {
			p.StartTime = r.Timestamp
		}
		return p, nil
	case KindNotification:
		var p NotificationPayload
		if r.ExtraData != "" {
			if err := json.Unmarshal([]byte(r.ExtraData), &p); err != nil {
				return nil, fmt.Errorf("failed to decode notification payload: %w", err)
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: status %q", ErrUnknownRecordKind, r.Status)
	}
}

// EncodePayload serializes a payload for ExtraData. An empty check payload
// encodes to "".
func EncodePayload(p Payload) (string, error) {
	var v interface{}
	switch p := p.(type) {
	case CheckPayload:
		if len(p.Fields) == 0 {
			return "", nil
		}
		v = p.Fields
	case *CheckPayload:
		return EncodePayload(*p)
	case RecoveryPayload, NotificationPayload:
		v = p
	case *RecoveryPayload:
		v = p
	case *NotificationPayload:
		v = p
	default:
		return "", ErrUnknownRecordKind
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}
