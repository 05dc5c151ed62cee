// internal/models/product.go
package models

import (
	"github.com/google/uuid"
)

type ProductType string

const (
	ProductTypeFood       ProductType = "food"
	ProductTypeIndustrial ProductType = "industrial"
)

func (t ProductType) IsValid() bool {
	return t == ProductTypeFood || t == ProductTypeIndustrial
}

// ProductDeclaration is an exportable good declared by an applicant.
// Its type and brand flags drive the mandatory document set.
type ProductDeclaration struct {
	BaseModel
	ApplicantID         uuid.UUID   `json:"applicant_id" gorm:"type:uuid;not null;index"`
	ProductType         ProductType `json:"product_type" gorm:"type:varchar(20);not null"`
	Category            string      `json:"category" gorm:"size:100"`
	HSCode              string      `json:"hs_code" gorm:"size:20"`
	ProductName         string      `json:"product_name" gorm:"size:255;not null"`
	OriginCountry       string      `json:"origin_country" gorm:"size:80"`
	AnnualQuantityValue float64     `json:"annual_quantity_value" gorm:"type:decimal(15,3)"`
	AnnualQuantityUnit  string      `json:"annual_quantity_unit" gorm:"size:20"`
	CommercialBrandName string      `json:"commercial_brand_name" gorm:"size:255"`
	IsLinkedToBrand     bool        `json:"is_linked_to_brand" gorm:"default:false"`
	BrandName           string      `json:"brand_name" gorm:"size:255"`
	IsBrandOwner        bool        `json:"is_brand_owner" gorm:"default:false"`
	HasBrandLicense     bool        `json:"has_brand_license" gorm:"default:false"`
}

// Label is the human-readable name used in validation messages.
func (p *ProductDeclaration) Label() string {
	if p.ProductName != "" {
		return p.ProductName
	}
	if p.HSCode != "" {
		return "HS " + p.HSCode
	}
	return p.ID.String()
}
