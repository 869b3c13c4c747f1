package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SILENT_ALERT_TYPE = "silent"
	HIGH_ALERT_TYPE   = "high"
)

var AlertTypeNameMap = map[string]bool{
	SILENT_ALERT_TYPE: true,
	HIGH_ALERT_TYPE:   true,
}

type Alert struct {
	BaseModel
	Type          string       `json:"type" gorm:"not null"`
	Message       string       `json:"message,omitempty"`
	Latitude      float64      `json:"latitude" gorm:"not null"`
	Longitude     float64      `json:"longitude" gorm:"not null"`
	Address       string       `json:"address,omitempty"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	UserID        uint         `json:"user_id" gorm:"not null"`
	AlertStatusID uint         `json:"alert_status_id"`
	AlertStatus   *AlertStatus `json:"status,omitempty"`

	// Contacts is the fan-out snapshot, fixed when the alert is created.
	// Later edits to the contact registry never change it.
	Contacts []Contact `json:"contacts_notified,omitempty" gorm:"many2many:alert_contacts;"`
}

func (alert *Alert) StatusName() string {
	if alert.AlertStatus == nil {
		return ""
	}
	return alert.AlertStatus.Name
}

func (alert *Alert) InTerminalStatus() bool {
	return TerminalAlertStatuses[alert.StatusName()]
}

func (alert *Alert) Update(data map[string]interface{}) error {
	return db.Model(alert).Omit("Contacts").Updates(data).Error
}

// SetStatus moves the alert to the named status & reloads the association,
// so StatusName() reflects the transition.
func (alert *Alert) SetStatus(name string, stamps map[string]interface{}) error {
	alertStatus, err := FindAlertStatus(name)
	if err != nil {
		return err
	}

	data := map[string]interface{}{"alert_status_id": alertStatus.ID}
	for field, value := range stamps {
		data[field] = value
	}

	err = alert.Update(data)
	if err != nil {
		return err
	}

	alert.AlertStatus = alertStatus
	return nil
}

// CreateAlert persists a new alert in 'pending' status, along with
// join records for its contact snapshot.
func CreateAlert(alert *Alert) error {
	pendingStatus, err := FindAlertStatus(PENDING_ALERT)
	if err != nil {
		return err
	}

	alert.AlertStatusID = pendingStatus.ID
	alert.AlertStatus = pendingStatus

	return db.Create(alert).Error
}

func FindAlert(id interface{}) (*Alert, error) {
	alert := Alert{}

	err := db.Preload("AlertStatus").
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("contacts.id") }).
		First(&alert, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

// FetchAlertsForUser returns the user's alerts, newest first.
func FetchAlertsForUser(userID interface{}, page int) ([]Alert, *Paging, error) {
	var total int64
	alerts := []Alert{}

	err := db.Model(&Alert{}).Where("user_id = ?", userID).Count(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("AlertStatus").
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("contacts.id") }).
		Order("alerts.created_at desc").
		Find(&alerts, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return alerts, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func AlertCountForUser(userID interface{}) (int64, error) {
	var total int64
	err := db.Model(&Alert{}).Where("user_id = ?", userID).Count(&total).Error
	if err != nil {
		return 0, err
	}

	return total, nil
}
