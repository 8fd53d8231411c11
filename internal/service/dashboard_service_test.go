package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/internal/models"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
)

type fakeCounter struct {
	counts []models.StatusCount
	err    error
	calls  int
}

func (f *fakeCounter) CountByStatus(context.Context) ([]models.StatusCount, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

type fakeCache struct {
	store map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := f.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.store[key] = raw
	return nil
}

func TestWorkflowDashboardAggregates(t *testing.T) {
	counter := &fakeCounter{counts: []models.StatusCount{
		{Type: models.SubjectInscription, Status: models.StatusSubmitted, Count: 3},
		{Type: models.SubjectInscription, Status: models.StatusPendingAdmin, Count: 2},
		{Type: models.SubjectDerogation, Status: models.StatusPendingDirector, Count: 1},
	}}
	svc := NewDashboardService(counter, newFakeCache(), time.Minute, zap.NewNop())

	summary, cacheHit, err := svc.Workflow(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 5, summary.Totals[string(models.SubjectInscription)])
	assert.Equal(t, 1, summary.Totals[string(models.SubjectDerogation)])
	assert.Len(t, summary.Counts, 3)
}

func TestWorkflowDashboardServesFromCache(t *testing.T) {
	counter := &fakeCounter{counts: []models.StatusCount{
		{Type: models.SubjectCandidacy, Status: models.StatusSubmitted, Count: 4},
	}}
	svc := NewDashboardService(counter, newFakeCache(), time.Minute, zap.NewNop())

	_, cacheHit, err := svc.Workflow(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)

	summary, cacheHit, err := svc.Workflow(context.Background())
	require.NoError(t, err)
	assert.True(t, cacheHit)
	assert.Equal(t, 1, counter.calls, "second read must not touch the database")
	assert.Equal(t, 4, summary.Totals[string(models.SubjectCandidacy)])
}

func TestWorkflowDashboardWithoutCache(t *testing.T) {
	counter := &fakeCounter{}
	svc := NewDashboardService(counter, nil, time.Minute, zap.NewNop())

	_, cacheHit, err := svc.Workflow(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)
}

func TestWorkflowDashboardStorageFailure(t *testing.T) {
	counter := &fakeCounter{err: errors.New("boom")}
	svc := NewDashboardService(counter, nil, time.Minute, zap.NewNop())

	_, _, err := svc.Workflow(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStorage.Code, appErrors.FromError(err).Code)
}
