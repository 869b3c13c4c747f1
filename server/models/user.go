package models

import (
	"errors"
	"fmt"

	"github.com/campuskit/sentinel/server/auth"
	"gorm.io/gorm"
)

var (
	allFieldsExceptPassword = []string{"id",
		"full_name",
		"email",
		"phone_number",
		"role_id",
		"created_at",
		"updated_at",
	}

	updatableUserFields = []string{"full_name",
		"phone_number",
		"password",
	}
)

type User struct {
	BaseModel
	FullName    string    `json:"full_name" validate:"required,max=50" gorm:"not null"`
	Email       string    `json:"email" validate:"required,email" gorm:"not null;unique"`
	PhoneNumber string    `json:"phone_number" validate:"required,phone_number" gorm:"not null"`
	Password    string    `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	RoleID      uint      `json:"role_id" gorm:"null"`
	Contacts    []Contact `json:"contacts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Alerts      []Alert   `json:"alerts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (user *User) IsAdmin() (bool, error) {
	if user.RoleID == 0 {
		return false, nil
	}

	adminRole, err := FindRole(ADMIN_USER_ROLE)
	if err != nil {
		return false, err
	}

	return adminRole.ID == user.RoleID, nil
}

func (user *User) Update(data map[string]interface{}) error {
	if data["password"] != nil {
		passwordHash, err := auth.HashPassword(data["password"].(string))
		if err != nil {
			return err
		}
		data["password"] = passwordHash
	}

	return db.Model(&User{}).Where("id = ?", user.ID).Select(updatableUserFields).Updates(data).Error
}

func (user *User) AddContact(contact *Contact) error {
	contact.UserID = user.ID
	return db.Create(contact).Error
}

func (user *User) LoadContacts() error {
	return db.Limit(500).Find(&user.Contacts, "user_id = ?", user.ID).Error
}

func (user *User) FindContact(contactID interface{}) (*Contact, error) {
	contact := Contact{}

	err := db.First(&contact, "id = ? AND user_id = ?", contactID, user.ID).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

func (user *User) UpdateContact(contactID interface{}, data map[string]interface{}) error {
	return db.Table("contacts").Where("id = ? AND user_id = ?", contactID, user.ID).Updates(data).Error
}

func (user *User) DeleteContact(contactID interface{}) error {
	return db.Where("user_id = ?", user.ID).Delete(&Contact{}, contactID).Error
}

// VerifiedContacts returns the set of contacts currently eligible for
// alert fan-out i.e. contacts the user has marked as verified.
func (user *User) VerifiedContacts() ([]Contact, error) {
	contacts := []Contact{}

	err := db.Order("id").Find(&contacts, "user_id = ? AND is_verified = ?", user.ID, true).Error
	if err != nil {
		return nil, err
	}

	return contacts, nil
}

func FindUserBy(field string, value interface{}) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func FindUserPassword(email string) (string, error) {
	user := &User{}
	err := db.Select("Password").First(user, "email = ?", email).Error
	if err != nil {
		return "", err
	}

	return user.Password, nil
}

func CreateUser(user *User) error {
	passwordHash, err := auth.HashPassword(user.Password)
	if err != nil {
		return err
	}
	user.Password = passwordHash

	return db.Create(user).Error
}

func DeleteUser(id interface{}) error {
	return db.Delete(&User{}, id).Error
}

func AtLeastOneUserExists() (bool, error) {
	err := db.First(&User{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
