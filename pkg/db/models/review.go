package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is the single customer rating allowed per completed order.
type Review struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	ReviewerID uuid.UUID `gorm:"column:reviewer_id;type:uuid;not null"`
	Rating     int       `gorm:"column:rating;not null"`
	Comment    *string   `gorm:"column:comment"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
