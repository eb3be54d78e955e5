// Package aggregator derives report level counters and status from items.
// Nothing here is stored authoritatively; every view is recomputed.
package aggregator

import "github.com/nimasrn/video-report/internal/model"

func Compute(items []*model.Item) model.ReportStats {
	var (
		s          model.ReportStats
		active     int
		pending    int
		processing int
		terminal   int
		doneActive int
	)
	s.TotalRecords = len(items)

	for _, it := range items {
		switch it.VideoStatus {
		case model.VideoStatusDone:
			s.SuccessCount++
		case model.VideoStatusFailed:
			s.FailedCount++
		}

		switch {
		case it.WaStatus.Sent():
			s.WaSentCount++
		case it.WaStatus.Failed():
			s.WaFailedCount++
		case it.WaStatus == model.WaStatusQueued || it.WaStatus == model.WaStatusProcessing:
			s.WaInFlight++
		}

		if it.Excluded {
			continue
		}
		active++
		switch {
		case it.VideoStatus == model.VideoStatusPending:
			pending++
		case it.VideoStatus == model.VideoStatusProcessing:
			processing++
		case it.VideoStatus.Terminal():
			terminal++
			if it.VideoStatus == model.VideoStatusDone {
				doneActive++
			}
		}
	}

	s.ProcessedRecords = s.SuccessCount + s.FailedCount
	s.WaPendingCount = doneActive - s.WaSentCount - s.WaFailedCount
	if s.WaPendingCount < 0 {
		s.WaPendingCount = 0
	}
	s.Status = status(active, pending, processing, terminal)
	s.WaComplete = s.WaSentCount == s.SuccessCount
	return s
}

func status(active, pending, processing, terminal int) model.ReportStatus {
	switch {
	case processing > 0:
		return model.ReportStatusProcessing
	case active > 0 && pending == active:
		return model.ReportStatusPending
	case terminal == active:
		return model.ReportStatusCompleted
	default:
		// some items finished while others wait for a worker
		return model.ReportStatusProcessing
	}
}

// Apply overwrites the derived fields of r. TotalRecords stays fixed at the
// value set when the report was created.
func Apply(r *model.Report, items []*model.Item) *model.Report {
	total := r.TotalRecords
	r.ReportStats = Compute(items)
	if total > 0 {
		r.TotalRecords = total
	}
	return r
}
