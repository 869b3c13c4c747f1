package alerts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campuskit/sentinel/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	sent     map[string][]string
	failFor  map[string]bool
	panicFor map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		sent:     map[string][]string{},
		failFor:  map[string]bool{},
		panicFor: map[string]bool{},
	}
}

func (d *fakeDispatcher) SendMessage(to, msg string) error {
	if d.panicFor[to] {
		panic("sms gateway crashed")
	}

	if d.failFor[to] {
		return errors.New("sms gateway rejected message")
	}

	d.sent[to] = append(d.sent[to], msg)
	return nil
}

func TestCreateAlert(t *testing.T) {
	models.InitializeTestDb()

	t.Run("sends an sms to every verified contact & activates the alert", func(t *testing.T) {
		user := createTestUser(t, "stark@avengers.com", "+12345678900")
		createTestContact(t, user, "pepper", "+12005550001", true)
		createTestContact(t, user, "happy", "+12005550002", true)
		createTestContact(t, user, "morgan", "+12005550003", false)

		dispatcher := newFakeDispatcher()
		manager := NewManager(dispatcher, true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{
			Message:   "Someone is following me",
			Latitude:  43.6532,
			Longitude: -79.3832,
			Address:   "100 Queen St W",
		})
		require.Nil(t, err)

		assert.Equal(t, models.ACTIVE_ALERT, alert.StatusName())
		assert.Len(t, alert.Contacts, 2, "only verified contacts belong in the snapshot")

		require.Len(t, dispatcher.sent["+12005550001"], 1)
		require.Len(t, dispatcher.sent["+12005550002"], 1)
		assert.Empty(t, dispatcher.sent["+12005550003"], "unverified contact should not be messaged")

		body := dispatcher.sent["+12005550001"][0]
		assert.Contains(t, body, "EMERGENCY ALERT from tony stark (+12345678900)")
		assert.Contains(t, body, "Type: High Priority Alert")
		assert.Contains(t, body, "Message: Someone is following me")
		assert.Contains(t, body, "Location: 100 Queen St W")
		assert.Contains(t, body, "https://www.google.com/maps?q=43.6532,-79.3832")
	})

	t.Run("leaves the alert pending when dispatch is disabled", func(t *testing.T) {
		user := createTestUser(t, "web@avengers.com", "+12345678901")
		createTestContact(t, user, "aunt may", "+12005550010", true)

		dispatcher := newFakeDispatcher()
		manager := NewManager(dispatcher, false)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 40.7128, Longitude: -74.0060})
		require.Nil(t, err)

		assert.Equal(t, models.PENDING_ALERT, alert.StatusName())
		assert.Empty(t, dispatcher.sent, "no sms should go out with dispatch disabled")
	})

	t.Run("fails fast when there are no verified contacts", func(t *testing.T) {
		user := createTestUser(t, "strange@avengers.com", "+12345678902")
		createTestContact(t, user, "wong", "+12005550020", false)

		manager := NewManager(newFakeDispatcher(), true)

		_, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		assert.ErrorIs(t, err, ErrNoVerifiedContacts)

		count, err := models.AlertCountForUser(user.ID)
		require.Nil(t, err)
		assert.Zero(t, count, "no alert record should be persisted")
	})

	t.Run("one failing recipient does not block the rest", func(t *testing.T) {
		user := createTestUser(t, "banner@avengers.com", "+12345678903")
		createTestContact(t, user, "thor", "+12005550030", true)
		createTestContact(t, user, "natasha", "+12005550031", true)

		dispatcher := newFakeDispatcher()
		dispatcher.failFor["+12005550030"] = true
		manager := NewManager(dispatcher, true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		assert.Equal(t, models.ACTIVE_ALERT, alert.StatusName())
		assert.Len(t, dispatcher.sent["+12005550031"], 1)
	})

	t.Run("a panicking dispatcher does not block the rest", func(t *testing.T) {
		user := createTestUser(t, "fury@avengers.com", "+12345678904")
		createTestContact(t, user, "hill", "+12005550040", true)
		createTestContact(t, user, "coulson", "+12005550041", true)

		dispatcher := newFakeDispatcher()
		dispatcher.panicFor["+12005550040"] = true
		manager := NewManager(dispatcher, true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		assert.Equal(t, models.ACTIVE_ALERT, alert.StatusName())
		assert.Len(t, dispatcher.sent["+12005550041"], 1)
	})

	t.Run("defaults to a high priority alert with placeholder message & location", func(t *testing.T) {
		user := createTestUser(t, "wanda@avengers.com", "+12345678905")
		createTestContact(t, user, "vision", "+12005550050", true)

		dispatcher := newFakeDispatcher()
		manager := NewManager(dispatcher, true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		assert.Equal(t, models.HIGH_ALERT_TYPE, alert.Type)

		body := dispatcher.sent["+12005550050"][0]
		assert.Contains(t, body, "Message: No additional message provided")
		assert.Contains(t, body, "Location: Location shared")
	})

	t.Run("uses the silent alert wording for silent alerts", func(t *testing.T) {
		user := createTestUser(t, "clint@avengers.com", "+12345678906")
		createTestContact(t, user, "laura", "+12005550060", true)

		dispatcher := newFakeDispatcher()
		manager := NewManager(dispatcher, true)

		_, err := manager.CreateAlert(user.ID, CreateAlertParams{
			Type: models.SILENT_ALERT_TYPE, Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		assert.Contains(t, dispatcher.sent["+12005550060"][0], "Type: Silent Alert")
	})

	t.Run("snapshot is fixed at creation time", func(t *testing.T) {
		user := createTestUser(t, "rhodey@avengers.com", "+12345678907")
		verified := createTestContact(t, user, "sam", "+12005550070", true)
		unverified := createTestContact(t, user, "bucky", "+12005550071", false)

		manager := NewManager(newFakeDispatcher(), true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)
		require.Len(t, alert.Contacts, 1)

		// flip verification both ways after the alert exists
		require.Nil(t, user.UpdateContact(verified.ID, map[string]interface{}{"is_verified": false}))
		require.Nil(t, user.UpdateContact(unverified.ID, map[string]interface{}{"is_verified": true}))

		reloaded, err := models.FindAlert(alert.ID)
		require.Nil(t, err)
		require.Len(t, reloaded.Contacts, 1)
		assert.Equal(t, verified.ID, reloaded.Contacts[0].ID)
	})
}

func TestCancelAlert(t *testing.T) {
	models.InitializeTestDb()

	t.Run("cancels an active alert & notifies still-verified contacts", func(t *testing.T) {
		user := createTestUser(t, "stark@avengers.com", "+12345678900")
		stillVerified := createTestContact(t, user, "pepper", "+12005550001", true)
		laterUnverified := createTestContact(t, user, "happy", "+12005550002", true)

		dispatcher := newFakeDispatcher()
		manager := NewManager(dispatcher, true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		// one of the snapshot contacts loses verification before the cancel
		require.Nil(t, user.UpdateContact(laterUnverified.ID, map[string]interface{}{"is_verified": false}))

		alert, err = manager.CancelAlert(alert.ID, user.ID)
		require.Nil(t, err)

		assert.Equal(t, models.CANCELLED_ALERT, alert.StatusName())
		require.NotNil(t, alert.CancelledAt)
		assert.WithinDuration(t, time.Now(), *alert.CancelledAt, time.Minute)

		require.Len(t, dispatcher.sent[stillVerified.PhoneNumber], 2)
		assert.Contains(t, dispatcher.sent[stillVerified.PhoneNumber][1],
			"ALERT CANCELLED: The emergency alert from tony stark has been cancelled.")
		assert.Len(t, dispatcher.sent[laterUnverified.PhoneNumber], 1,
			"contact no longer verified should only have the original alert sms")
	})

	t.Run("rejects a second cancel", func(t *testing.T) {
		user := createTestUser(t, "web@avengers.com", "+12345678901")
		createTestContact(t, user, "aunt may", "+12005550010", true)

		manager := NewManager(newFakeDispatcher(), true)

		alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		_, err = manager.CancelAlert(alert.ID, user.ID)
		require.Nil(t, err)

		_, err = manager.CancelAlert(alert.ID, user.ID)
		var transitionErr *InvalidStateTransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, "cannot cancel an alert that is cancelled", err.Error())

		_, err = manager.ResolveAlert(alert.ID, user.ID)
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, "cannot resolve an alert that is cancelled", err.Error())
	})

	t.Run("only the owner can cancel", func(t *testing.T) {
		owner := createTestUser(t, "banner@avengers.com", "+12345678903")
		createTestContact(t, owner, "thor", "+12005550030", true)
		stranger := createTestUser(t, "loki@avengers.com", "+12345678904")

		manager := NewManager(newFakeDispatcher(), true)

		alert, err := manager.CreateAlert(owner.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
		require.Nil(t, err)

		_, err = manager.CancelAlert(alert.ID, stranger.ID)
		assert.ErrorIs(t, err, ErrNotAlertOwner)
	})

	t.Run("unknown alert id", func(t *testing.T) {
		user := createTestUser(t, "fury@avengers.com", "+12345678905")

		manager := NewManager(newFakeDispatcher(), true)

		_, err := manager.CancelAlert(uint(999999), user.ID)
		assert.ErrorIs(t, err, ErrAlertNotFound)
	})
}

func TestResolveAlert(t *testing.T) {
	models.InitializeTestDb()

	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	createTestContact(t, user, "pepper", "+12005550001", true)

	manager := NewManager(newFakeDispatcher(), true)

	alert, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
	require.Nil(t, err)

	alert, err = manager.ResolveAlert(alert.ID, user.ID)
	require.Nil(t, err)

	assert.Equal(t, models.RESOLVED_ALERT, alert.StatusName())
	require.NotNil(t, alert.ResolvedAt)
	assert.WithinDuration(t, time.Now(), *alert.ResolvedAt, time.Minute)

	_, err = manager.CancelAlert(alert.ID, user.ID)
	var transitionErr *InvalidStateTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "cannot cancel an alert that is resolved", err.Error())
}

func TestListAlerts(t *testing.T) {
	models.InitializeTestDb()

	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	createTestContact(t, user, "pepper", "+12005550001", true)

	manager := NewManager(newFakeDispatcher(), true)

	first, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 1, Longitude: 1})
	require.Nil(t, err)

	time.Sleep(10 * time.Millisecond)

	second, err := manager.CreateAlert(user.ID, CreateAlertParams{Latitude: 2, Longitude: 2})
	require.Nil(t, err)

	alerts, paging, err := manager.ListAlerts(user.ID, 1)
	require.Nil(t, err)

	require.Len(t, alerts, 2)
	assert.Equal(t, second.ID, alerts[0].ID, "newest alert should come first")
	assert.Equal(t, first.ID, alerts[1].ID)
	assert.Equal(t, int64(2), paging.Total)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func createTestUser(t *testing.T, email, phoneNumber string) *models.User {
	t.Helper()

	user := &models.User{
		FullName:    "tony stark",
		Email:       email,
		PhoneNumber: phoneNumber,
		Password:    "very-secure",
	}
	require.Nil(t, models.CreateUser(user), fmt.Sprintf("Should create user %v", email))

	return user
}

func createTestContact(t *testing.T, user *models.User, name, phoneNumber string, verified bool) *models.Contact {
	t.Helper()

	contact := &models.Contact{
		Name:        name,
		PhoneNumber: phoneNumber,
		Relation:    "friend",
		IsVerified:  verified,
	}
	require.Nil(t, user.AddContact(contact), fmt.Sprintf("Should create contact %v", name))

	return contact
}
