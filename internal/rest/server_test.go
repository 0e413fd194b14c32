// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/workflow"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/model/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *workflow.Engine) {
	t.Helper()
	registry := graph.NewRegistry()
	g, err := graph.NewBuilder("holiday", "1", "Holiday").
		Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
		Activity(model.Activity{GUID: "approve", Name: "Approve", Type: model.ActivityTypeTask}).
		Connect("start", "approve", "").
		Build()
	require.NoError(t, err)
	registry.Register(g)

	store := inmemory.NewStorage()
	engine, err := workflow.NewEngine(workflow.EngineWithStorage(store), workflow.EngineWithModelProvider(registry))
	require.NoError(t, err)
	return NewServer(engine, store, config.Config{Name: "test"}), engine
}

func TestListReadyTasks(t *testing.T) {
	s, engine := newTestServer(t)
	runner := model.AppRunner{AppName: "hr", AppInstanceID: "req-1", ProcessGUID: "holiday", UserID: "emp", UserName: "Employee"}
	_, err := engine.StartProcess(t.Context(), runner, &model.ActivityResource{
		NextActivityPerformers: model.PerformerMap{"approve": {{UserID: "boss", UserName: "Boss"}}},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks?userId=boss", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var page TaskPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, PaginationDefaultSize, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "approve", page.Items[0].ActivityGUID)
	assert.Equal(t, "Approve", page.Items[0].ActivityName)
	assert.Equal(t, "req-1", page.Items[0].AppInstanceID)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks?userId=emp", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
}

func TestListReadyTasksRejectsBadPaging(t *testing.T) {
	s, _ := newTestServer(t)

	for _, query := range []string{"limit=0", "limit=abc", "offset=-1", "limit=100000"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)

		var apiErr ApiError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, "BAD_REQUEST", apiErr.Type)
	}
}

func TestStatus(t *testing.T) {
	s, engine := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, engine.Name(), status.Engine)
	assert.Equal(t, "ok", status.Storage)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
