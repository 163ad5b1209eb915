package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AllergySeverity string

const (
	AllergyMild     AllergySeverity = "mild"
	AllergyModerate AllergySeverity = "moderate"
	AllergySevere   AllergySeverity = "severe"
)

type Allergy struct {
	Substance string          `json:"substance"`
	Severity  AllergySeverity `json:"severity"`
	Reaction  string          `json:"reaction,omitempty"`
}

func (a Allergy) IsSevere() bool {
	return a.Severity == AllergySevere
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Patient is the read-side safety profile this service consults during
// prescription review. The platform's patient directory owns the source of
// truth; this projection carries only what the safety checks need.
type Patient struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	FirstName   string    `gorm:"column:first_name;type:varchar(100);not null"`
	LastName    string    `gorm:"column:last_name;type:varchar(100);not null"`
	DateOfBirth time.Time `gorm:"column:date_of_birth;not null"`

	Allergies         []Allergy `gorm:"column:allergies;serializer:json"`
	ChronicConditions []string  `gorm:"column:chronic_conditions;serializer:json"`
	Pregnant          bool      `gorm:"column:pregnant;default:false"`

	Status Status `gorm:"column:status;type:varchar(20);default:'active';index"`
}

func (Patient) TableName() string {
	return "pharmacy.patients"
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p *Patient) IsActive() bool {
	return p.Status == StatusActive
}

// SevereAllergySubstances lists the substances the patient reacts severely to.
func (p *Patient) SevereAllergySubstances() []string {
	var out []string
	for _, a := range p.Allergies {
		if a.IsSevere() {
			out = append(out, a.Substance)
		}
	}
	return out
}
