package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GarmentPattern carries the base fabric requirement and one adjustment per
// body type. Estimated meters for a line = BaseMeters + adjustment.
type GarmentPattern struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Name              string          `gorm:"size:100;not null" json:"name"`
	Category          string          `gorm:"size:50" json:"category"`
	BaseMeters        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_meters"`
	SlimAdjustment    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"slim_adjustment"`
	RegularAdjustment decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"regular_adjustment"`
	LargeAdjustment   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"large_adjustment"`
	XlAdjustment      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"xl_adjustment"`
	Active            *bool           `gorm:"default:true" json:"active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AdjustmentForBodyType returns the body-type meter adjustment.
func (p *GarmentPattern) AdjustmentForBodyType(bodyType BodyType) decimal.Decimal {
	switch bodyType {
	case BodyTypeSlim:
		return p.SlimAdjustment
	case BodyTypeLarge:
		return p.LargeAdjustment
	case BodyTypeXL:
		return p.XlAdjustment
	default:
		return p.RegularAdjustment
	}
}

// EstimatedMetersFor derives the body-type-adjusted fabric requirement.
func (p *GarmentPattern) EstimatedMetersFor(bodyType BodyType) decimal.Decimal {
	return p.BaseMeters.Add(p.AdjustmentForBodyType(bodyType))
}
