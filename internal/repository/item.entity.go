package repository

import (
	"time"

	"github.com/nimasrn/video-report/internal/model"
)

type ItemEntity struct {
	ID             int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	ReportID       int64      `db:"report_id"        gorm:"column:report_id;not null;index;uniqueIndex:uq_report_items_row,priority:1"`
	RowNumber      int        `db:"row_no"           gorm:"column:row_no;not null;uniqueIndex:uq_report_items_row,priority:2"`
	Name           string     `db:"name"             gorm:"column:name;not null;default:''"`
	Phone          string     `db:"phone"            gorm:"column:phone;not null"`
	Excluded       bool       `db:"excluded"         gorm:"column:excluded;not null;default:false"`
	VideoStatus    string     `db:"video_status"     gorm:"column:video_status;not null;default:PENDING;index"`
	VideoURL       string     `db:"video_url"        gorm:"column:video_url;not null;default:''"`
	ErrorMessage   string     `db:"error_message"    gorm:"column:error_message;not null;default:''"`
	WaStatus       string     `db:"wa_status"        gorm:"column:wa_status;not null;default:'';index"`
	WaSentAt       *time.Time `db:"wa_sent_at"       gorm:"column:wa_sent_at"`
	WaErrorMessage string     `db:"wa_error_message" gorm:"column:wa_error_message;not null;default:''"`
	WaDeliveryID   string     `db:"wa_delivery_id"   gorm:"column:wa_delivery_id;not null;default:''"`
	CreatedAt      time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (ItemEntity) TableName() string {
	return "report_items"
}

func toItemEntity(m *model.Item) *ItemEntity {
	if m == nil {
		return nil
	}
	return &ItemEntity{
		ID:             m.ID,
		ReportID:       m.ReportID,
		RowNumber:      m.RowNumber,
		Name:           m.Name,
		Phone:          m.Phone,
		Excluded:       m.Excluded,
		VideoStatus:    string(m.VideoStatus),
		VideoURL:       m.VideoURL,
		ErrorMessage:   m.ErrorMessage,
		WaStatus:       string(m.WaStatus),
		WaSentAt:       m.WaSentAt,
		WaErrorMessage: m.WaErrorMessage,
		WaDeliveryID:   m.WaDeliveryID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toItemModel(e *ItemEntity) *model.Item {
	if e == nil {
		return nil
	}
	return &model.Item{
		ID:             e.ID,
		ReportID:       e.ReportID,
		RowNumber:      e.RowNumber,
		Name:           e.Name,
		Phone:          e.Phone,
		Excluded:       e.Excluded,
		VideoStatus:    model.VideoStatus(e.VideoStatus),
		VideoURL:       e.VideoURL,
		ErrorMessage:   e.ErrorMessage,
		WaStatus:       model.WaStatus(e.WaStatus),
		WaSentAt:       e.WaSentAt,
		WaErrorMessage: e.WaErrorMessage,
		WaDeliveryID:   e.WaDeliveryID,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toItemModels(entities []*ItemEntity) []*model.Item {
	if entities == nil {
		return nil
	}
	models := make([]*model.Item, len(entities))
	for i, e := range entities {
		models[i] = toItemModel(e)
	}
	return models
}
