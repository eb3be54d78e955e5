package repository

import (
	"time"

	"github.com/nimasrn/video-report/internal/model"
)

type ReportEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	Name              string    `db:"name"                gorm:"column:name;not null"`
	Kind              string    `db:"kind"                gorm:"column:kind;not null"`
	TemplateRef       string    `db:"template_ref"        gorm:"column:template_ref;not null;default:''"`
	WaMessageTemplate string    `db:"wa_message_template" gorm:"column:wa_message_template;not null;default:''"`
	TotalRecords      int       `db:"total_records"       gorm:"column:total_records;not null"`
	Status            string    `db:"status"              gorm:"column:status;not null;default:PENDING"`
	ProcessedRecords  int       `db:"processed_records"   gorm:"column:processed_records;not null;default:0"`
	SuccessCount      int       `db:"success_count"       gorm:"column:success_count;not null;default:0"`
	FailedCount       int       `db:"failed_count"        gorm:"column:failed_count;not null;default:0"`
	WaSentCount       int       `db:"wa_sent_count"       gorm:"column:wa_sent_count;not null;default:0"`
	WaPendingCount    int       `db:"wa_pending_count"    gorm:"column:wa_pending_count;not null;default:0"`
	WaFailedCount     int       `db:"wa_failed_count"     gorm:"column:wa_failed_count;not null;default:0"`
	CreatedAt         time.Time `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (ReportEntity) TableName() string {
	return "reports"
}

func toReportEntity(m *model.Report) *ReportEntity {
	if m == nil {
		return nil
	}
	return &ReportEntity{
		ID:                m.ID,
		Name:              m.Name,
		Kind:              string(m.Kind),
		TemplateRef:       m.TemplateRef,
		WaMessageTemplate: m.WaMessageTemplate,
		TotalRecords:      m.TotalRecords,
		Status:            string(m.Status),
		ProcessedRecords:  m.ProcessedRecords,
		SuccessCount:      m.SuccessCount,
		FailedCount:       m.FailedCount,
		WaSentCount:       m.WaSentCount,
		WaPendingCount:    m.WaPendingCount,
		WaFailedCount:     m.WaFailedCount,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toReportModel(e *ReportEntity) *model.Report {
	if e == nil {
		return nil
	}
	return &model.Report{
		ID:                e.ID,
		Name:              e.Name,
		Kind:              model.ReportKind(e.Kind),
		TemplateRef:       e.TemplateRef,
		WaMessageTemplate: e.WaMessageTemplate,
		ReportStats: model.ReportStats{
			TotalRecords:     e.TotalRecords,
			ProcessedRecords: e.ProcessedRecords,
			SuccessCount:     e.SuccessCount,
			FailedCount:      e.FailedCount,
			WaSentCount:      e.WaSentCount,
			WaPendingCount:   e.WaPendingCount,
			WaFailedCount:    e.WaFailedCount,
			Status:           model.ReportStatus(e.Status),
			WaComplete:       e.WaSentCount == e.SuccessCount,
		},
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toReportModels(entities []*ReportEntity) []*model.Report {
	if entities == nil {
		return nil
	}
	models := make([]*model.Report, len(entities))
	for i, e := range entities {
		models[i] = toReportModel(e)
	}
	return models
}
