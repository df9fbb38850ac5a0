package database

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Subscription is a Telegram chat that asked to follow the log.
type Subscription struct {
	ChatID    int64     `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type DB struct {
	db *gorm.DB
}

func New(path string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Subscription{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Subscribe(chatID int64) error {
	return db.db.FirstOrCreate(&Subscription{ChatID: chatID}).Error
}

func (db *DB) Unsubscribe(chatID int64) error {
	return db.db.Delete(&Subscription{}, "chat_id = ?", chatID).Error
}

func (db *DB) IsSubscribed(chatID int64) (bool, error) {
	var count int64
	err := db.db.Model(&Subscription{}).Where("chat_id = ?", chatID).Count(&count).Error
	return count > 0, err
}

func (db *DB) Subscribers() ([]int64, error) {
	var subs []Subscription
	if err := db.db.Order("created_at").Find(&subs).Error; err != nil {
		return nil, err
	}
	chats := make([]int64, len(subs))
	for i, s := range subs {
		chats[i] = s.ChatID
	}
	return chats, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
