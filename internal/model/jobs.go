package model

import "time"

type VideoJob struct {
	ReportID   int64     `json:"report_id"`
	ItemID     int64     `json:"item_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type DispatchJob struct {
	ReportID   int64     `json:"report_id"`
	ItemID     int64     `json:"item_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
