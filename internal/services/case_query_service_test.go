package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
	"github.com/javajoker/export-registry/internal/repository/repositorytest"
)

type queryFixture struct {
	ctx      context.Context
	store    *repositorytest.MemStore
	files    *memFiles
	cases    *CaseService
	query    *CaseQueryService
	exporter *models.Account
	agent    *models.Account
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()

	store := repositorytest.New()
	files := newMemFiles()
	cases := NewCaseService(store, files, &recordingNotifier{}, newFakeGateway(), testConfig(),
		WithStorageRetryDelay(time.Millisecond))
	t.Cleanup(cases.Wait)

	return &queryFixture{
		ctx:      context.Background(),
		store:    store,
		files:    files,
		cases:    cases,
		query:    NewCaseQueryService(store, files, NewCompletenessValidator(nil)),
		exporter: seedExporter(t, store),
		agent:    seedAccount(t, store, models.RoleAgent, "agent"),
	}
}

func (f *queryFixture) owner() Identity {
	return Identity{AccountID: f.exporter.ID, Role: models.RoleExporter}
}

func (f *queryFixture) staff() Identity {
	return Identity{AccountID: f.agent.ID, Role: models.RoleAgent}
}

func TestCaseQuery_GetCaseVisibility(t *testing.T) {
	f := newQueryFixture(t)
	industrial := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeIndustrial, false)
	c, err := f.cases.CreateCase(f.ctx, f.exporter.ID, models.TrackDeclaration)
	require.NoError(t, err)
	uploadRequired(t, f.cases, c, industrial)

	detail, err := f.query.GetCase(f.ctx, c.ID, f.owner())
	require.NoError(t, err)
	assert.Equal(t, c.ID, detail.Case.ID)
	assert.Len(t, detail.Products, 1)
	assert.Len(t, detail.Documents, 1)

	_, err = f.query.GetCase(f.ctx, c.ID, f.staff())
	assert.NoError(t, err)

	stranger := Identity{AccountID: uuid.New(), Role: models.RoleExporter}
	_, err = f.query.GetCase(f.ctx, c.ID, stranger)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = f.query.GetCase(f.ctx, uuid.New(), f.staff())
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	found, err := f.query.FindByReference(f.ctx, c.Reference, f.owner())
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	_, err = f.query.FindByReference(f.ctx, "DEC-20000101-NOTHERE0", f.owner())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCaseQuery_HistoryNewestFirst(t *testing.T) {
	f := newQueryFixture(t)
	industrial := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeIndustrial, false)
	c, err := f.cases.CreateCase(f.ctx, f.exporter.ID, models.TrackDeclaration)
	require.NoError(t, err)
	uploadRequired(t, f.cases, c, industrial)
	_, err = f.cases.SubmitCase(f.ctx, c.ID, f.exporter.ID)
	require.NoError(t, err)
	_, err = f.cases.AssignCase(f.ctx, c.ID, f.agent.ID, f.agent.ID)
	require.NoError(t, err)

	entries, err := f.query.History(f.ctx, c.ID, f.owner())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []models.HistoryAction{models.ActionAssignment, models.ActionSubmission, models.ActionCreation},
		[]models.HistoryAction{entries[0].Action, entries[1].Action, entries[2].Action})
}

func TestCaseQuery_Completeness(t *testing.T) {
	f := newQueryFixture(t)
	c, err := f.cases.CreateCase(f.ctx, f.exporter.ID, models.TrackDeclaration)
	require.NoError(t, err)

	report, err := f.query.Completeness(f.ctx, c.ID, f.owner())
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Equal(t, 0, report.ProductCount)
	assert.Empty(t, report.Missing)

	food := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeFood, true)
	industrial := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeIndustrial, false)

	report, err = f.query.Completeness(f.ctx, c.ID, f.owner())
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Len(t, report.Missing, 12)

	uploadRequired(t, f.cases, c, food)
	uploadRequired(t, f.cases, c, industrial)
	report, err = f.query.Completeness(f.ctx, c.ID, f.owner())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 2, report.ProductCount)
	assert.Empty(t, report.Missing)
}

func TestCaseQuery_DocumentCountsAndDownload(t *testing.T) {
	f := newQueryFixture(t)
	industrial := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeIndustrial, false)
	c, err := f.cases.CreateCase(f.ctx, f.exporter.ID, models.TrackDeclaration)
	require.NoError(t, err)
	docs := uploadRequired(t, f.cases, c, industrial)
	_, err = f.cases.UploadDocument(f.ctx, UploadDocumentInput{
		CaseID: c.ID, ApplicantID: f.exporter.ID, DocumentType: models.DocOfficialLetter,
		FileName: "letter.pdf", Content: []byte("%PDF letter"),
	})
	require.NoError(t, err)
	_, err = f.cases.SubmitCase(f.ctx, c.ID, f.exporter.ID)
	require.NoError(t, err)
	_, err = f.cases.ValidateDocument(f.ctx, docs[0].ID, f.agent.ID, "", true)
	require.NoError(t, err)

	counts, err := f.query.DocumentCounts(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentCounts{Total: 2, Valid: 1, Pending: 1}, *counts)

	doc, content, err := f.query.DownloadDocument(f.ctx, docs[0].ID, f.owner())
	require.NoError(t, err)
	assert.Equal(t, docs[0].ID, doc.ID)
	assert.Contains(t, string(content), string(models.DocConformityCert))

	_, _, err = f.query.DownloadDocument(f.ctx, docs[0].ID, Identity{AccountID: uuid.New(), Role: models.RoleExporter})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, _, err = f.query.DownloadDocument(f.ctx, docs[0].ID, f.staff())
	assert.NoError(t, err)
}

func TestCaseQuery_Listings(t *testing.T) {
	f := newQueryFixture(t)
	page := repository.Page{Page: 1, Limit: 10}

	industrial := seedProduct(t, f.store, f.exporter.ID, models.ProductTypeIndustrial, false)
	c, err := f.cases.CreateCase(f.ctx, f.exporter.ID, models.TrackDeclaration)
	require.NoError(t, err)
	uploadRequired(t, f.cases, c, industrial)
	_, err = f.cases.SubmitCase(f.ctx, c.ID, f.exporter.ID)
	require.NoError(t, err)

	mine, total, err := f.query.ListByApplicant(f.ctx, f.exporter.ID, page)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, c.ID, mine[0].ID)

	_, total, err = f.query.ListUnassigned(f.ctx, page)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = f.query.ListByStatus(f.ctx, models.CaseStatusSubmitted, page)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, _, err = f.query.ListByStatus(f.ctx, models.CaseStatus("LOST"), page)
	assert.ErrorIs(t, err, apperror.ErrValidationFailed)

	waiting, err := f.query.AgentStatistics(f.ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentStatistics{Waiting: 1}, *waiting)

	_, err = f.cases.AssignCase(f.ctx, c.ID, f.agent.ID, f.agent.ID)
	require.NoError(t, err)

	_, total, err = f.query.ListUnassigned(f.ctx, page)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	submitted := models.CaseStatusSubmitted
	assigned, total, err := f.query.ListByAgent(f.ctx, f.agent.ID, &submitted, page)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, c.ID, assigned[0].ID)

	_, err = f.cases.Decide(f.ctx, c.ID, f.agent.ID, false, "no")
	require.NoError(t, err)

	agentStats, err := f.query.AgentStatistics(f.ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentStatistics{Decided: 1}, *agentStats)

	stats, err := f.query.Statistics(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[models.CaseStatusRejected])
	assert.Len(t, stats.ByStatus, len(models.AllCaseStatuses()))
}
