package models

import (
	"time"

	"github.com/google/uuid"
)

// Draft is the appeal content captured at intake, frozen once the order is
// paid. The assembler renders it into the mailed document.
type Draft struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CitationNumber string    `gorm:"column:citation_number;not null"`
	IssuingAgency  string    `gorm:"column:issuing_agency;not null"`
	AppellantName  string    `gorm:"column:appellant_name;not null"`
	Body           string    `gorm:"column:body;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
