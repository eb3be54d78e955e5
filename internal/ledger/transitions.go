package ledger

import (
	"fmt"
	"time"

	"github.com/nimasrn/video-report/internal/model"
)

var videoTransitions = map[model.VideoStatus][]model.VideoStatus{
	model.VideoStatusPending:    {model.VideoStatusProcessing},
	model.VideoStatusProcessing: {model.VideoStatusDone, model.VideoStatusFailed},
}

var waTransitions = map[model.WaStatus][]model.WaStatus{
	model.WaStatusAbsent:     {model.WaStatusPending, model.WaStatusQueued},
	model.WaStatusPending:    {model.WaStatusQueued},
	model.WaStatusQueued:     {model.WaStatusProcessing},
	model.WaStatusProcessing: {model.WaStatusSent, model.WaStatusDelivered, model.WaStatusFailed, model.WaStatusError},
	model.WaStatusSent:       {model.WaStatusDelivered, model.WaStatusFailed},
	model.WaStatusFailed:     {model.WaStatusQueued},
	model.WaStatusError:      {model.WaStatusQueued},
}

func CanTransitionVideo(from, to model.VideoStatus) bool {
	for _, s := range videoTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionWa(from, to model.WaStatus) bool {
	for _, s := range waTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// applyVideo moves item to status. It reports false when the update is a
// repeat of the current terminal state.
func applyVideo(item *model.Item, status model.VideoStatus, upd model.VideoUpdate) (bool, error) {
	if item.VideoStatus == status && status.Terminal() {
		if sameVideoPayload(item, status, upd) {
			return false, nil
		}
		return false, fmt.Errorf("%w: item %d video already %s", model.ErrState, item.ID, status)
	}

	if !CanTransitionVideo(item.VideoStatus, status) {
		return false, fmt.Errorf("%w: item %d video %s -> %s", model.ErrState, item.ID, item.VideoStatus, status)
	}

	switch status {
	case model.VideoStatusDone:
		if upd.URL == "" {
			return false, fmt.Errorf("%w: video url is required", model.ErrValidation)
		}
		item.VideoURL = upd.URL
		item.ErrorMessage = ""
	case model.VideoStatusFailed:
		if upd.ErrorMessage == "" {
			return false, fmt.Errorf("%w: error message is required", model.ErrValidation)
		}
		item.VideoURL = ""
		item.ErrorMessage = upd.ErrorMessage
	}
	item.VideoStatus = status
	return true, nil
}

func sameVideoPayload(item *model.Item, status model.VideoStatus, upd model.VideoUpdate) bool {
	switch status {
	case model.VideoStatusDone:
		return upd.URL == "" || upd.URL == item.VideoURL
	case model.VideoStatusFailed:
		return upd.ErrorMessage == "" || upd.ErrorMessage == item.ErrorMessage
	}
	return true
}

// resetVideo is the explicit regenerate path, the only way out of FAILED.
func resetVideo(item *model.Item) (bool, error) {
	switch item.VideoStatus {
	case model.VideoStatusPending:
		return false, nil
	case model.VideoStatusFailed:
		item.VideoStatus = model.VideoStatusPending
		item.ErrorMessage = ""
		return true, nil
	default:
		return false, fmt.Errorf("%w: item %d video %s cannot be regenerated", model.ErrState, item.ID, item.VideoStatus)
	}
}

func applyWa(item *model.Item, status model.WaStatus, upd model.WaUpdate, now time.Time) (bool, error) {
	if !item.Dispatchable() {
		return false, fmt.Errorf("%w: item %d has no dispatchable video", model.ErrPrecondition, item.ID)
	}

	if item.WaStatus == status {
		switch {
		case status == model.WaStatusPending || status == model.WaStatusQueued:
			return false, nil
		case sameWaPayload(item, status, upd):
			return false, nil
		}
		return false, fmt.Errorf("%w: item %d dispatch already %s", model.ErrState, item.ID, status)
	}

	if !CanTransitionWa(item.WaStatus, status) {
		return false, fmt.Errorf("%w: item %d dispatch %s -> %s", model.ErrState, item.ID, waLabel(item.WaStatus), status)
	}

	switch status {
	case model.WaStatusQueued:
		item.WaErrorMessage = ""
		item.WaSentAt = nil
		item.WaDeliveryID = ""
	case model.WaStatusSent, model.WaStatusDelivered:
		switch {
		case upd.SentAt != nil:
			item.WaSentAt = upd.SentAt
		case item.WaSentAt == nil:
			item.WaSentAt = &now
		}
		if upd.DeliveryID != "" {
			item.WaDeliveryID = upd.DeliveryID
		}
		item.WaErrorMessage = ""
	case model.WaStatusFailed, model.WaStatusError:
		if upd.ErrorMessage == "" {
			return false, fmt.Errorf("%w: error message is required", model.ErrValidation)
		}
		item.WaErrorMessage = upd.ErrorMessage
		item.WaSentAt = nil
		if upd.DeliveryID != "" {
			item.WaDeliveryID = upd.DeliveryID
		}
	}
	item.WaStatus = status
	return true, nil
}

func sameWaPayload(item *model.Item, status model.WaStatus, upd model.WaUpdate) bool {
	switch status {
	case model.WaStatusSent, model.WaStatusDelivered:
		return upd.DeliveryID == "" || upd.DeliveryID == item.WaDeliveryID
	case model.WaStatusFailed, model.WaStatusError:
		return upd.ErrorMessage == "" || upd.ErrorMessage == item.WaErrorMessage
	}
	return false
}

func setExcluded(item *model.Item, excluded bool) (bool, error) {
	if item.Excluded == excluded {
		return false, nil
	}
	if item.WaStatus != model.WaStatusAbsent && item.WaStatus != model.WaStatusPending {
		return false, fmt.Errorf("%w: item %d dispatch already %s", model.ErrState, item.ID, item.WaStatus)
	}
	item.Excluded = excluded
	if excluded {
		item.WaStatus = model.WaStatusAbsent
	}
	return true, nil
}

func waLabel(s model.WaStatus) string {
	if s == model.WaStatusAbsent {
		return "absent"
	}
	return string(s)
}
