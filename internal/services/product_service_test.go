package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository/repositorytest"
)

func foodRequest() *CreateProductRequest {
	return &CreateProductRequest{
		ProductType:         models.ProductTypeFood,
		ProductName:         "Argan oil",
		HSCode:              "1515.90",
		OriginCountry:       "MA",
		AnnualQuantityValue: 1200,
		AnnualQuantityUnit:  "kg",
	}
}

func TestProductService_CRUD(t *testing.T) {
	store := repositorytest.New()
	svc := NewProductService(store)
	ctx := context.Background()
	exporter := seedExporter(t, store)

	product, err := svc.CreateProduct(ctx, exporter.ID, foodRequest())
	require.NoError(t, err)
	assert.Equal(t, exporter.ID, product.ApplicantID)

	got, err := svc.GetProduct(ctx, product.ID, exporter.ID)
	require.NoError(t, err)
	assert.Equal(t, "Argan oil", got.ProductName)

	update := foodRequest()
	update.HasBrandLicense = true
	update.BrandName = "Atlas"
	updated, err := svc.UpdateProduct(ctx, product.ID, exporter.ID, update)
	require.NoError(t, err)
	assert.True(t, updated.HasBrandLicense)

	list, err := svc.ListProducts(ctx, exporter.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteProduct(ctx, product.ID, exporter.ID))
	_, err = svc.GetProduct(ctx, product.ID, exporter.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestProductService_Refusals(t *testing.T) {
	store := repositorytest.New()
	svc := NewProductService(store)
	ctx := context.Background()
	exporter := seedExporter(t, store)

	invalid := foodRequest()
	invalid.ProductType = "textile"
	_, err := svc.CreateProduct(ctx, exporter.ID, invalid)
	assert.ErrorIs(t, err, apperror.ErrValidationFailed)

	product, err := svc.CreateProduct(ctx, exporter.ID, foodRequest())
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = svc.GetProduct(ctx, product.ID, stranger)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.UpdateProduct(ctx, product.ID, stranger, foodRequest())
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, product.ID, stranger), apperror.ErrUnauthorized)
}

func TestProductService_LockedWhileCaseUnderWay(t *testing.T) {
	store := repositorytest.New()
	svc := NewProductService(store)
	ctx := context.Background()
	exporter := seedExporter(t, store)

	product, err := svc.CreateProduct(ctx, exporter.ID, foodRequest())
	require.NoError(t, err)

	c := &models.RegistrationCase{
		ApplicantID: exporter.ID,
		Reference:   "DEC-20240101-LOCKED01",
		Track:       models.TrackDeclaration,
		Status:      models.CaseStatusSubmitted,
	}
	require.NoError(t, store.CreateCase(ctx, c))

	_, err = svc.CreateProduct(ctx, exporter.ID, foodRequest())
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	_, err = svc.UpdateProduct(ctx, product.ID, exporter.ID, foodRequest())
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, product.ID, exporter.ID), apperror.ErrInvalidState)

	// A closed case no longer pins the declarations.
	c.Status = models.CaseStatusRejected
	require.NoError(t, store.UpdateCase(ctx, c, c.Version))
	_, err = svc.UpdateProduct(ctx, product.ID, exporter.ID, foodRequest())
	assert.NoError(t, err)
}
