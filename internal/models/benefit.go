package models

import "time"

// Card is a credit card product in the catalog
type Card struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	Issuer    string    `gorm:"size:80" json:"issuer"`
	CreatedAt time.Time `json:"created_at"`
}

// Benefit is a recurring credit or perk attached to a card.
// Cadence is kept as free text because the catalog is seeded from CSV and
// spellings drift (semi_annual, semiannual, Semi-Annual...).
type Benefit struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CardID    string    `gorm:"size:64;not null;index" json:"card_id"`
	Name      string    `gorm:"size:160;not null" json:"name"`
	Value     float64   `gorm:"type:decimal(10,2);not null;default:0" json:"value"`
	Notes     string    `gorm:"type:text" json:"notes"`
	Cadence   string    `gorm:"size:32;not null" json:"cadence"`
	CreatedAt time.Time `json:"created_at"`

	Card Card `gorm:"foreignKey:CardID" json:"card,omitempty"`
}

// UserBenefit is a user's tracking state for one benefit in their wallet
type UserBenefit struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:ux_user_benefit_pair,priority:1" json:"user_id"`
	BenefitID string    `gorm:"size:64;not null;uniqueIndex:ux_user_benefit_pair,priority:2" json:"benefit_id"`
	RemindMe  bool      `gorm:"not null;default:false" json:"remind_me"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EligibleBenefit is one row of the opted-in benefit view the digest job reads:
// a user_benefit joined to its benefit and the benefit's card.
type EligibleBenefit struct {
	UserID       string  `json:"user_id"`
	BenefitID    string  `json:"benefit_id"`
	BenefitName  string  `json:"benefit_name"`
	BenefitValue float64 `json:"benefit_value"`
	BenefitNotes string  `json:"benefit_notes"`
	Cadence      string  `json:"cadence"`
	CardID       string  `json:"card_id"`
	CardName     string  `json:"card_name"`
	Used         bool    `json:"used"`
}

// TableName specifies the table name for the Card model
func (Card) TableName() string {
	return "card"
}

// TableName specifies the table name for the Benefit model
func (Benefit) TableName() string {
	return "benefit"
}

// TableName specifies the table name for the UserBenefit model
func (UserBenefit) TableName() string {
	return "user_benefit"
}
