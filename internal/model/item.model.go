package model

import (
	"fmt"
	"time"
)

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "PENDING"
	VideoStatusProcessing VideoStatus = "PROCESSING"
	VideoStatusDone       VideoStatus = "DONE"
	VideoStatusFailed     VideoStatus = "FAILED"
)

func (s VideoStatus) Terminal() bool {
	return s == VideoStatusDone || s == VideoStatusFailed
}

// WaStatus is the dispatch lifecycle of an item. The zero value means no
// dispatch was ever requested.
type WaStatus string

// WaStatusPending marks a dispatch that was requested but not queued yet.
// Nothing here writes it. The ledger accepts it so that items staged as
// PENDING by another writer are still blasted and resendable.
const (
	WaStatusAbsent     WaStatus = ""
	WaStatusPending    WaStatus = "PENDING"
	WaStatusQueued     WaStatus = "QUEUED"
	WaStatusProcessing WaStatus = "PROCESSING"
	WaStatusSent       WaStatus = "SENT"
	WaStatusDelivered  WaStatus = "DELIVERED"
	WaStatusFailed     WaStatus = "FAILED"
	WaStatusError      WaStatus = "ERROR"
)

func (s WaStatus) Sent() bool {
	return s == WaStatusSent || s == WaStatusDelivered
}

func (s WaStatus) Failed() bool {
	return s == WaStatusFailed || s == WaStatusError
}

// Resendable reports whether a single explicit delivery may be attempted.
func (s WaStatus) Resendable() bool {
	return s == WaStatusAbsent || s == WaStatusPending || s.Failed()
}

type Item struct {
	ID             int64       `json:"id"`
	ReportID       int64       `json:"report_id"`
	RowNumber      int         `json:"row_number"`
	Name           string      `json:"name"`
	Phone          string      `json:"phone"`
	Excluded       bool        `json:"excluded"`
	VideoStatus    VideoStatus `json:"video_status"`
	VideoURL       string      `json:"video_url,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	WaStatus       WaStatus    `json:"wa_status,omitempty"`
	WaSentAt       *time.Time  `json:"wa_sent_at,omitempty"`
	WaErrorMessage string      `json:"wa_error_message,omitempty"`
	WaDeliveryID   string      `json:"wa_delivery_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Dispatchable reports whether the item may leave the absent dispatch state.
func (i *Item) Dispatchable() bool {
	return i.VideoStatus == VideoStatusDone && !i.Excluded
}

type VideoUpdate struct {
	URL          string
	ErrorMessage string
}

type WaUpdate struct {
	SentAt       *time.Time
	ErrorMessage string
	DeliveryID   string
}

type ItemFilterKind string

const (
	ItemFilterAll          ItemFilterKind = "all"
	ItemFilterVideoSuccess ItemFilterKind = "video-success"
	ItemFilterVideoFailed  ItemFilterKind = "video-failed"
	ItemFilterWaSent       ItemFilterKind = "wa-sent"
	ItemFilterWaPending    ItemFilterKind = "wa-pending"
	ItemFilterWaFailed     ItemFilterKind = "wa-failed"
)

func ParseItemFilterKind(s string) (ItemFilterKind, error) {
	switch k := ItemFilterKind(s); k {
	case "":
		return ItemFilterAll, nil
	case ItemFilterAll, ItemFilterVideoSuccess, ItemFilterVideoFailed,
		ItemFilterWaSent, ItemFilterWaPending, ItemFilterWaFailed:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", ErrValidation, s)
	}
}

// ItemFilter controls item List queries. Results are ordered by row number.
type ItemFilter struct {
	ReportID int64
	Kind     ItemFilterKind
	Search   string // case-insensitive substring of name or phone
	Limit    int
	Offset   int
}

type ItemPage struct {
	Items []*Item `json:"items"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"size"`
}

// ItemDetail is an item with its dispatch history, newest first.
type ItemDetail struct {
	*Item
	Attempts []*DispatchAttempt `json:"attempts"`
}
