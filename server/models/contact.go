package models

type Contact struct {
	BaseModel
	Name        string `json:"name" validate:"required,max=50" gorm:"not null"`
	PhoneNumber string `json:"phone_number" validate:"required,phone_number" gorm:"not null"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Relation    string `json:"relation" validate:"required"`
	IsVerified  bool   `json:"is_verified" gorm:"default:false"`
	UserID      uint   `json:"user_id" gorm:"not null"`
}

func FindContact(id interface{}) (*Contact, error) {
	contact := Contact{}
	err := db.First(&contact, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}
