package models

type Auth struct {
	Username string `json:"username" gorm:"primaryKey;type:text"`
	Password string `json:"-" gorm:"type:text;not null"`
	Role     string `json:"role" gorm:"type:text;not null"`
}

func (Auth) TableName() string {
	return "auth"
}

type Profile struct {
	Username     string    `json:"username" gorm:"primaryKey;type:text"`
	Auth         Auth      `json:"-" gorm:"foreignKey:Username;references:Username;constraint:OnDelete:CASCADE;"`
	Name         string    `json:"name" gorm:"type:text"`
	Organization string    `json:"organization" gorm:"type:text"`
	Email        string    `json:"email" gorm:"type:text"`
	Phone        string    `json:"phone" gorm:"type:text"`
	Address      string    `json:"address" gorm:"type:text"`
	LocationID   *string   `json:"locationId" gorm:"type:text"`
	Location     *Location `json:"-" gorm:"foreignKey:LocationID;references:ID"`
}
