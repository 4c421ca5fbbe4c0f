package models

import "time"

// UnlimitedRequests is the DailyRequestLimit sentinel for users without a cap.
const UnlimitedRequests = -1

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email        string `gorm:"type:varchar(255);index"`
	PasswordHash string `gorm:"type:varchar(255)"`
	IsActive     bool   `gorm:"not null"`

	// Quota. RequestsUsedToday only counts for the calendar day of
	// LastRequestReset; a nil reset time means no request was ever counted.
	DailyRequestLimit int        `gorm:"not null"`
	RequestsUsedToday int        `gorm:"not null"`
	LastRequestReset  *time.Time `gorm:"index"`
	// Bumped on every quota write, used as the optimistic lock.
	QuotaVersion int64 `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

func (u *User) Unlimited() bool {
	return u.DailyRequestLimit == UnlimitedRequests
}
