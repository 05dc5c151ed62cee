// internal/services/completeness_validator.go
package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/metrics"
	"github.com/javajoker/export-registry/internal/models"
)

var foodDocuments = []models.DocumentType{
	models.DocSanitaryApproval,
	models.DocSanitaryCert,
	models.DocFreeSaleCert,
	models.DocTechnicalDataSheet,
	models.DocBacterioAnalysis,
	models.DocPhysicoChemAnalysis,
	models.DocRadioactivityAnalysis,
	models.DocFumigationCert,
	models.DocOfficialLetter,
	models.DocProductSheets,
}

// MissingDocument is one unmet requirement.
type MissingDocument struct {
	ProductID    uuid.UUID           `json:"product_id"`
	ProductName  string              `json:"product_name"`
	DocumentType models.DocumentType `json:"document_type"`
	Label        string              `json:"label"`
}

func (m MissingDocument) String() string {
	return fmt.Sprintf("missing %q for product %q", m.Label, m.ProductName)
}

// RequiredDocuments is the mandatory set for one product, in declaration order.
func RequiredDocuments(productType models.ProductType, hasBrandLicense bool) []models.DocumentType {
	switch productType {
	case models.ProductTypeFood:
		required := make([]models.DocumentType, 0, len(foodDocuments)+1)
		required = append(required, foodDocuments...)
		if hasBrandLicense {
			required = append(required, models.DocBrandLicense)
		}
		return required
	case models.ProductTypeIndustrial:
		return []models.DocumentType{models.DocConformityCert}
	default:
		return nil
	}
}

type CompletenessValidator struct {
	metrics *metrics.Metrics
}

func NewCompletenessValidator(m *metrics.Metrics) *CompletenessValidator {
	return &CompletenessValidator{metrics: m}
}

// Validate stops at the first unmet requirement. An empty product list is
// itself a failure: there is nothing to register.
func (v *CompletenessValidator) Validate(products []models.ProductDeclaration, documents []models.Document) error {
	if len(products) == 0 {
		v.metrics.CompletenessChecked(false)
		return apperror.ValidationFailed("at least one product must be declared before submission")
	}

	stored := indexStored(documents)
	for i := range products {
		p := &products[i]
		for _, docType := range RequiredDocuments(p.ProductType, p.HasBrandLicense) {
			if stored[requirementKey{p.ID, docType}] {
				continue
			}
			v.metrics.CompletenessChecked(false)
			gap := missing(p, docType)
			return apperror.ValidationFailed(fmt.Sprintf("document %q is missing for product %q", gap.Label, gap.ProductName)).
				With("product_id", p.ID.String()).
				With("document_type", string(docType))
		}
	}

	v.metrics.CompletenessChecked(true)
	return nil
}

// ValidateAll reports every unmet requirement instead of the first one.
func (v *CompletenessValidator) ValidateAll(products []models.ProductDeclaration, documents []models.Document) []MissingDocument {
	stored := indexStored(documents)

	var gaps []MissingDocument
	for i := range products {
		p := &products[i]
		for _, docType := range RequiredDocuments(p.ProductType, p.HasBrandLicense) {
			if !stored[requirementKey{p.ID, docType}] {
				gaps = append(gaps, missing(p, docType))
			}
		}
	}
	return gaps
}

type requirementKey struct {
	productID uuid.UUID
	docType   models.DocumentType
}

// indexStored keeps only documents whose bytes were actually written.
func indexStored(documents []models.Document) map[requirementKey]bool {
	index := make(map[requirementKey]bool, len(documents))
	for i := range documents {
		d := &documents[i]
		if d.ProductID == nil || !d.IsStored() {
			continue
		}
		index[requirementKey{*d.ProductID, d.DocumentType}] = true
	}
	return index
}

func missing(p *models.ProductDeclaration, docType models.DocumentType) MissingDocument {
	return MissingDocument{
		ProductID:    p.ID,
		ProductName:  p.Label(),
		DocumentType: docType,
		Label:        docType.Label(),
	}
}
