package alerts

import (
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/sentinel/server/logger"
	"github.com/campuskit/sentinel/server/models"
	"gorm.io/gorm"
)

var logg = logger.NewLogger()

var (
	ErrNoVerifiedContacts = errors.New("no verified emergency contacts found")
	ErrAlertNotFound      = errors.New("emergency alert not found")
	ErrNotAlertOwner      = errors.New("not authorized to access this alert")
)

// InvalidStateTransitionError is returned when a cancel/resolve is attempted
// on an alert already in a terminal status.
type InvalidStateTransitionError struct {
	Action        string
	CurrentStatus string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %v an alert that is %v", e.Action, e.CurrentStatus)
}

// Dispatcher delivers one message to one phone number. The twilio client
// wrapper is the production implementation.
type Dispatcher interface {
	SendMessage(to, msg string) error
}

type CreateAlertParams struct {
	Type      string
	Message   string
	Latitude  float64
	Longitude float64
	Address   string
}

// Manager owns the life of an emergency alert: creation, SMS fan-out to the
// verified-contact snapshot, status transitions & cancellation. Delivery
// failures never fail the parent operation.
type Manager struct {
	dispatcher      Dispatcher
	dispatchEnabled bool
}

func NewManager(dispatcher Dispatcher, dispatchEnabled bool) *Manager {
	return &Manager{dispatcher: dispatcher, dispatchEnabled: dispatchEnabled}
}

// CreateAlert persists a new alert with a snapshot of the user's currently
// verified contacts, then attempts one SMS per contact. When dispatch is
// enabled the alert moves to 'active' once the attempt loop completes,
// whether or not any send succeeded. With dispatch disabled it stays
// 'pending' and no sends are attempted.
func (m *Manager) CreateAlert(userID interface{}, params CreateAlertParams) (*models.Alert, error) {
	user, err := models.FindUserBy("id", userID)
	if err != nil {
		return nil, err
	}

	contacts, err := user.VerifiedContacts()
	if err != nil {
		return nil, err
	}

	if len(contacts) == 0 {
		return nil, ErrNoVerifiedContacts
	}

	alertType := params.Type
	if alertType == "" {
		alertType = models.HIGH_ALERT_TYPE
	}

	alert := &models.Alert{
		Type:      alertType,
		Message:   params.Message,
		Latitude:  params.Latitude,
		Longitude: params.Longitude,
		Address:   params.Address,
		UserID:    user.ID,
		Contacts:  contacts,
	}

	err = models.CreateAlert(alert)
	if err != nil {
		return nil, err
	}

	if m.dispatchEnabled {
		m.dispatchToEach(contacts, alertMessageBody(user, alert))

		// Status records that escalation was attempted, not that it was
		// delivered. A failed status write is swallowed like any other
		// post-persistence hiccup & the alert stays 'pending'.
		if err := alert.SetStatus(models.ACTIVE_ALERT, nil); err != nil {
			logg.Errorf("failed to activate alert %v: %v", alert.ID, err)
		}
	}

	return alert, nil
}

// CancelAlert moves an owned, non-terminal alert to 'cancelled' and then
// notifies the alert's contact snapshot, best effort.
func (m *Manager) CancelAlert(alertID interface{}, userID uint) (*models.Alert, error) {
	alert, err := m.findOwnedAlert(alertID, userID)
	if err != nil {
		return nil, err
	}

	if alert.InTerminalStatus() {
		return nil, &InvalidStateTransitionError{Action: "cancel", CurrentStatus: alert.StatusName()}
	}

	now := time.Now()
	err = alert.SetStatus(models.CANCELLED_ALERT, map[string]interface{}{"cancelled_at": now})
	if err != nil {
		return nil, err
	}
	alert.CancelledAt = &now

	m.notifyCancellation(alert)

	return alert, nil
}

// ResolveAlert marks an owned, non-terminal alert as 'resolved'.
func (m *Manager) ResolveAlert(alertID interface{}, userID uint) (*models.Alert, error) {
	alert, err := m.findOwnedAlert(alertID, userID)
	if err != nil {
		return nil, err
	}

	if alert.InTerminalStatus() {
		return nil, &InvalidStateTransitionError{Action: "resolve", CurrentStatus: alert.StatusName()}
	}

	now := time.Now()
	err = alert.SetStatus(models.RESOLVED_ALERT, map[string]interface{}{"resolved_at": now})
	if err != nil {
		return nil, err
	}
	alert.ResolvedAt = &now

	return alert, nil
}

func (m *Manager) GetAlert(alertID interface{}, userID uint) (*models.Alert, error) {
	return m.findOwnedAlert(alertID, userID)
}

// ListAlerts returns the user's own alerts, newest first.
func (m *Manager) ListAlerts(userID uint, page int) ([]models.Alert, *models.Paging, error) {
	return models.FetchAlertsForUser(userID, page)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (m *Manager) findOwnedAlert(alertID interface{}, userID uint) (*models.Alert, error) {
	alert, err := models.FindAlert(alertID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}

	if err != nil {
		return nil, err
	}

	if alert.UserID != userID {
		return nil, ErrNotAlertOwner
	}

	return alert, nil
}

// dispatchToEach attempts delivery to every contact independently. One
// recipient's failure must never cut off the rest of the loop.
func (m *Manager) dispatchToEach(contacts []models.Contact, body string) {
	for _, contact := range contacts {
		if err := m.sendTo(contact.PhoneNumber, body); err != nil {
			logg.Errorf("failed to send sms to contact %v: %v", contact.ID, err)
		}
	}
}

func (m *Manager) sendTo(phoneNumber, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()

	return m.dispatcher.SendMessage(phoneNumber, body)
}

// notifyCancellation messages the contacts from the alert's snapshot that are
// still verified. Failures are logged & swallowed, the cancel already stuck.
func (m *Manager) notifyCancellation(alert *models.Alert) {
	if !m.dispatchEnabled {
		return
	}

	user, err := models.FindUserBy("id", alert.UserID)
	if err != nil {
		logg.Errorf("failed to load user %v for cancellation notice: %v", alert.UserID, err)
		return
	}

	stillVerified := []models.Contact{}
	for _, contact := range alert.Contacts {
		if contact.IsVerified {
			stillVerified = append(stillVerified, contact)
		}
	}

	m.dispatchToEach(stillVerified, cancelMessageBody(user))
}

func alertMessageBody(user *models.User, alert *models.Alert) string {
	alertType := "High Priority Alert"
	if alert.Type == models.SILENT_ALERT_TYPE {
		alertType = "Silent Alert"
	}

	message := alert.Message
	if message == "" {
		message = "No additional message provided"
	}

	address := alert.Address
	if address == "" {
		address = "Location shared"
	}

	return fmt.Sprintf(
		"EMERGENCY ALERT from %v (%v):\n"+
			"Type: %v\n"+
			"Message: %v\n"+
			"Location: %v\n"+
			"Map: https://www.google.com/maps?q=%v,%v",
		user.FullName, user.PhoneNumber, alertType, message, address,
		alert.Latitude, alert.Longitude)
}

func cancelMessageBody(user *models.User) string {
	return fmt.Sprintf("ALERT CANCELLED: The emergency alert from %v has been cancelled.", user.FullName)
}
