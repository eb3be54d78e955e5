package model

import (
	"fmt"
	"strings"
	"time"
)

type ReportKind string

const (
	ReportKindLearningVideo ReportKind = "LEARNING_VIDEO"
	ReportKindPersonalSales ReportKind = "PERSONAL_SALES"
)

func (k ReportKind) Valid() bool {
	return k == ReportKindLearningVideo || k == ReportKindPersonalSales
}

// ReportStatus is the aggregate video lifecycle of a report.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "PENDING"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusCompleted  ReportStatus = "COMPLETED"
)

const DefaultWaMessageTemplate = "Hi :name, your video is ready: :linkvideo"

// ReportStats are always derived from the report's items.
type ReportStats struct {
	TotalRecords     int          `json:"total_records"`
	ProcessedRecords int          `json:"processed_records"`
	SuccessCount     int          `json:"success_count"`
	FailedCount      int          `json:"failed_count"`
	WaSentCount      int          `json:"wa_sent_count"`
	WaPendingCount   int          `json:"wa_pending_count"`
	WaFailedCount    int          `json:"wa_failed_count"`
	WaInFlight       int          `json:"wa_in_flight"`
	Status           ReportStatus `json:"status"`
	WaComplete       bool         `json:"wa_complete"`
}

// Settled reports no longer change without a client action.
func (s ReportStats) Settled() bool {
	return s.Status == ReportStatusCompleted && s.WaPendingCount <= 0 && s.WaInFlight == 0
}

type Report struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Kind              ReportKind `json:"kind"`
	TemplateRef       string     `json:"template_ref"`
	WaMessageTemplate string     `json:"wa_message_template"`
	ReportStats
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Recipient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ReportCreateRequest struct {
	Name              string      `json:"name"`
	Kind              ReportKind  `json:"kind"`
	TemplateRef       string      `json:"template_ref"`
	WaMessageTemplate string      `json:"wa_message_template"`
	Recipients        []Recipient `json:"recipients"`
}

func (p ReportCreateRequest) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, p.Kind)
	}
	return ValidateRecipients(p.Recipients)
}

func ValidateRecipients(recipients []Recipient) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: recipients are required", ErrValidation)
	}
	for i, r := range recipients {
		if strings.TrimSpace(r.Phone) == "" {
			return fmt.Errorf("%w: recipient %d has no phone", ErrValidation, i+1)
		}
	}
	return nil
}

// ReportFilter controls report List queries.
type ReportFilter struct {
	Kind   *ReportKind
	Limit  int // default 50
	Offset int
}
