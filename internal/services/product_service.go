// internal/services/product_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/utils"
)

// ProductService manages the applicant's product declarations. Declarations
// freeze once the applicant has a case under way beyond DRAFT.
type ProductService struct {
	store repository.Store
}

type CreateProductRequest struct {
	ProductType         models.ProductType `json:"product_type" validate:"required,product_type"`
	Category            string             `json:"category,omitempty" validate:"omitempty,max=100"`
	HSCode              string             `json:"hs_code,omitempty" validate:"omitempty,max=20"`
	ProductName         string             `json:"product_name" validate:"required,max=255"`
	OriginCountry       string             `json:"origin_country,omitempty" validate:"omitempty,max=80"`
	AnnualQuantityValue float64            `json:"annual_quantity_value" validate:"gte=0"`
	AnnualQuantityUnit  string             `json:"annual_quantity_unit,omitempty" validate:"omitempty,max=20"`
	CommercialBrandName string             `json:"commercial_brand_name,omitempty" validate:"omitempty,max=255"`
	IsLinkedToBrand     bool               `json:"is_linked_to_brand"`
	BrandName           string             `json:"brand_name,omitempty" validate:"omitempty,max=255"`
	IsBrandOwner        bool               `json:"is_brand_owner"`
	HasBrandLicense     bool               `json:"has_brand_license"`
}

type UpdateProductRequest = CreateProductRequest

func NewProductService(store repository.Store) *ProductService {
	return &ProductService{store: store}
}

func (s *ProductService) CreateProduct(ctx context.Context, applicantID uuid.UUID, req *CreateProductRequest) (*models.ProductDeclaration, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid product declaration").With("fields", utils.GetValidationErrors(err))
	}

	product := &models.ProductDeclaration{ApplicantID: applicantID}
	applyProductRequest(product, req)

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := s.ensureEditable(ctx, tx, applicantID); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"applicant_id": applicantID,
		"product_id":   product.ID,
		"product_type": product.ProductType,
	}).Info("Product declared")
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id, applicantID uuid.UUID) (*models.ProductDeclaration, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.ApplicantID != applicantID {
		return nil, apperror.Unauthorized("the product belongs to another applicant")
	}
	return product, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id, applicantID uuid.UUID, req *UpdateProductRequest) (*models.ProductDeclaration, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperror.ValidationFailed("invalid product declaration").With("fields", utils.GetValidationErrors(err))
	}

	var product *models.ProductDeclaration
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		product, err = tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if product.ApplicantID != applicantID {
			return apperror.Unauthorized("the product belongs to another applicant")
		}
		if err := s.ensureEditable(ctx, tx, applicantID); err != nil {
			return err
		}
		applyProductRequest(product, req)
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id, applicantID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(tx repository.Store) error {
		product, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if product.ApplicantID != applicantID {
			return apperror.Unauthorized("the product belongs to another applicant")
		}
		if err := s.ensureEditable(ctx, tx, applicantID); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, id)
	})
}

func (s *ProductService) ListProducts(ctx context.Context, applicantID uuid.UUID) ([]models.ProductDeclaration, error) {
	return s.store.ListProductsByApplicant(ctx, applicantID)
}

// ensureEditable refuses changes while a case of the applicant sits in a
// non-terminal state past DRAFT. Closed cases no longer pin the declarations.
func (s *ProductService) ensureEditable(ctx context.Context, tx repository.Store, applicantID uuid.UUID) error {
	locked := []models.CaseStatus{
		models.CaseStatusSubmitted, models.CaseStatusPendingPayment, models.CaseStatusPaid,
		models.CaseStatusUnderReview, models.CaseStatusPendingInfo,
	}
	cases, total, err := tx.ListCases(ctx, repository.CaseFilter{ApplicantID: &applicantID, Statuses: locked}, repository.Page{Page: 1, Limit: 1})
	if err != nil {
		return err
	}
	if total > 0 {
		return apperror.InvalidState("case", cases[0].ID, string(cases[0].Status), string(models.CaseStatusDraft)).
			With("reason", "product declarations are locked while a case is under way")
	}
	return nil
}

func applyProductRequest(p *models.ProductDeclaration, req *CreateProductRequest) {
	p.ProductType = req.ProductType
	p.Category = req.Category
	p.HSCode = req.HSCode
	p.ProductName = req.ProductName
	p.OriginCountry = req.OriginCountry
	p.AnnualQuantityValue = req.AnnualQuantityValue
	p.AnnualQuantityUnit = req.AnnualQuantityUnit
	p.CommercialBrandName = req.CommercialBrandName
	p.IsLinkedToBrand = req.IsLinkedToBrand
	p.BrandName = req.BrandName
	p.IsBrandOwner = req.IsBrandOwner
	p.HasBrandLicense = req.HasBrandLicense
}
