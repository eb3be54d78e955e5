package repository

import (
	"time"

	"github.com/nimasrn/video-report/internal/model"
)

type DispatchAttemptEntity struct {
	ID           int64      `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	ItemID       int64      `db:"item_id"       gorm:"column:item_id;not null;index"`
	DeliveryID   string     `db:"delivery_id"   gorm:"column:delivery_id;not null;default:'';index"`
	Message      string     `db:"message"       gorm:"column:message;not null;default:''"`
	Status       string     `db:"status"        gorm:"column:status;not null"`
	ErrorMessage string     `db:"error_message" gorm:"column:error_message;not null;default:''"`
	AttemptedAt  time.Time  `db:"attempted_at"  gorm:"column:attempted_at;autoCreateTime"`
	CompletedAt  *time.Time `db:"completed_at"  gorm:"column:completed_at"`
}

func (DispatchAttemptEntity) TableName() string {
	return "dispatch_attempts"
}

func toDispatchAttemptEntity(m *model.DispatchAttempt) *DispatchAttemptEntity {
	if m == nil {
		return nil
	}
	return &DispatchAttemptEntity{
		ID:           m.ID,
		ItemID:       m.ItemID,
		DeliveryID:   m.DeliveryID,
		Message:      m.Message,
		Status:       string(m.Status),
		ErrorMessage: m.ErrorMessage,
		AttemptedAt:  m.AttemptedAt,
		CompletedAt:  m.CompletedAt,
	}
}

func toDispatchAttemptModel(e *DispatchAttemptEntity) *model.DispatchAttempt {
	if e == nil {
		return nil
	}
	return &model.DispatchAttempt{
		ID:           e.ID,
		ItemID:       e.ItemID,
		DeliveryID:   e.DeliveryID,
		Message:      e.Message,
		Status:       model.AttemptStatus(e.Status),
		ErrorMessage: e.ErrorMessage,
		AttemptedAt:  e.AttemptedAt,
		CompletedAt:  e.CompletedAt,
	}
}

func toDispatchAttemptModels(entities []*DispatchAttemptEntity) []*model.DispatchAttempt {
	if entities == nil {
		return nil
	}
	models := make([]*model.DispatchAttempt, len(entities))
	for i, e := range entities {
		models[i] = toDispatchAttemptModel(e)
	}
	return models
}
