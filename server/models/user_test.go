package models

import (
	"testing"

	"github.com/campuskit/sentinel/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestVerifiedContacts(t *testing.T) {
	InitializeTestDb()

	user := &User{FullName: "tony stark", Email: "stark@avengers.com", PhoneNumber: "+12345678900", Password: "very-secure"}
	require.Nil(t, CreateUser(user))

	require.Nil(t, user.AddContact(&Contact{Name: "pepper", PhoneNumber: "+12005550001", Relation: "partner", IsVerified: true}))
	require.Nil(t, user.AddContact(&Contact{Name: "happy", PhoneNumber: "+12005550002", Relation: "friend"}))
	require.Nil(t, user.AddContact(&Contact{Name: "rhodey", PhoneNumber: "+12005550003", Relation: "friend", IsVerified: true}))

	contacts, err := user.VerifiedContacts()
	require.Nil(t, err)

	require.Len(t, contacts, 2)
	assert.Equal(t, "pepper", contacts[0].Name)
	assert.Equal(t, "rhodey", contacts[1].Name)
}

func TestContactLookupIsScopedToOwner(t *testing.T) {
	InitializeTestDb()

	owner := &User{FullName: "tony stark", Email: "stark@avengers.com", PhoneNumber: "+12345678900", Password: "very-secure"}
	stranger := &User{FullName: "loki odinson", Email: "loki@avengers.com", PhoneNumber: "+12345678901", Password: "very-secure"}
	require.Nil(t, CreateUser(owner))
	require.Nil(t, CreateUser(stranger))

	contact := &Contact{Name: "pepper", PhoneNumber: "+12005550001", Relation: "partner"}
	require.Nil(t, owner.AddContact(contact))

	found, err := owner.FindContact(contact.ID)
	require.Nil(t, err)
	assert.Equal(t, contact.ID, found.ID)

	_, err = stranger.FindContact(contact.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// the unscoped lookup still resolves it, so handlers can tell
	// "not yours" apart from "does not exist"
	unscoped, err := FindContact(contact.ID)
	require.Nil(t, err)
	assert.Equal(t, owner.ID, unscoped.UserID)
}

func TestCreateUserHashesPassword(t *testing.T) {
	InitializeTestDb()

	user := &User{FullName: "tony stark", Email: "stark@avengers.com", PhoneNumber: "+12345678900", Password: "very-secure"}
	require.Nil(t, CreateUser(user))

	passwordHash, err := FindUserPassword("stark@avengers.com")
	require.Nil(t, err)

	assert.NotEqual(t, "very-secure", passwordHash)
	assert.True(t, auth.CheckPasswordHash("very-secure", passwordHash))
	assert.False(t, auth.CheckPasswordHash("wrong", passwordHash))
}

func TestAtLeastOneUserExists(t *testing.T) {
	InitializeTestDb()

	exists, err := AtLeastOneUserExists()
	require.Nil(t, err)
	assert.False(t, exists)

	require.Nil(t, CreateUser(&User{FullName: "tony stark", Email: "stark@avengers.com", PhoneNumber: "+12345678900", Password: "very-secure"}))

	exists, err = AtLeastOneUserExists()
	require.Nil(t, err)
	assert.True(t, exists)
}
