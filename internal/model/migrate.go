package model

import "gorm.io/gorm"

// AutoMigrate creates or updates the users, chat_sessions and messages tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &ChatSession{}, &ChatMessage{})
}
