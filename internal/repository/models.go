package repository

import "time"

// APIKeyModel is the persistence model for the api_keys table.
type APIKeyModel struct {
	Key       string `gorm:"type:varchar(255);primaryKey"`
	Name      string `gorm:"type:varchar(100);not null;default:''"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (APIKeyModel) TableName() string {
	return "api_keys"
}
