package models

const (
	PENDING_ALERT   = "pending"
	ACTIVE_ALERT    = "active"
	RESOLVED_ALERT  = "resolved"
	CANCELLED_ALERT = "cancelled"
)

// No transition is allowed out of a terminal status.
var TerminalAlertStatuses = map[string]bool{
	RESOLVED_ALERT:  true,
	CANCELLED_ALERT: true,
}

type AlertStatus struct {
	BaseModel
	Name   string  `json:"name"`
	Alerts []Alert `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

func FindAlertStatus(name string) (*AlertStatus, error) {
	alertStatus := AlertStatus{}
	err := db.Select("id", "name").First(&alertStatus, "name = ?", name).Error
	if err != nil {
		return nil, err
	}

	return &alertStatus, nil
}
