// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/internal/rest/middleware"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PaginationDefaultSize = 10
	PaginationMaxSize     = 500
)

// Server exposes the worklist of the engine and the system endpoints.
type Server struct {
	engine *workflow.Engine
	store  storage.Storage
	addr   string
	server *http.Server
}

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type TaskView struct {
	Key                 int64             `json:"key"`
	ProcessInstanceKey  int64             `json:"processInstanceKey"`
	ActivityInstanceKey int64             `json:"activityInstanceKey"`
	AppName             string            `json:"appName"`
	AppInstanceID       string            `json:"appInstanceId"`
	ProcessGUID         string            `json:"processGuid"`
	ActivityGUID        string            `json:"activityGuid"`
	ActivityName        string            `json:"activityName"`
	AssignedToUserID    string            `json:"assignedToUserId"`
	AssignedToUserName  string            `json:"assignedToUserName"`
	State               runtime.TaskState `json:"state"`
	CreatedAt           time.Time         `json:"createdAt"`
}

type TaskPage struct {
	Items  []TaskView `json:"items"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

type Status struct {
	Engine  string `json:"engine"`
	Storage string `json:"storage"`
}

func NewServer(engine *workflow.Engine, store storage.Storage, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		store:  store,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Opentelemetry(conf.Name))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/tasks", s.listReadyTasks)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", s.status)
	})
	return &s
}

// Handler returns the router, mostly useful in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Infof(context.Background(), "ZenFlow HTTP server listening on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

// listReadyTasks serves the worklist: live tasks on Ready or Running activities.
func (s *Server) listReadyTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, ApiError{Message: "offset must be a non-negative number", Type: "BAD_REQUEST"})
		return
	}
	limit, err := intParam(q.Get("limit"), PaginationDefaultSize)
	if err != nil || limit <= 0 || limit > PaginationMaxSize {
		writeError(w, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("limit must be between 1 and %d", PaginationMaxSize), Type: "BAD_REQUEST"})
		return
	}

	tasks, total, err := s.engine.FindReadyTasks(r.Context(), storage.TaskQuery{
		UserID:        q.Get("userId"),
		AppInstanceID: q.Get("appInstanceId"),
		ProcessGUID:   q.Get("processGuid"),
		AppName:       q.Get("appName"),
		Offset:        offset,
		Limit:         limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ApiError{Message: err.Error(), Type: "ERROR"})
		return
	}
	page := TaskPage{Items: make([]TaskView, len(tasks)), Total: total, Offset: offset, Limit: limit}
	for i, task := range tasks {
		page.Items[i] = TaskView{
			Key:                 task.Key,
			ProcessInstanceKey:  task.ProcessInstanceKey,
			ActivityInstanceKey: task.ActivityInstanceKey,
			AppName:             task.AppName,
			AppInstanceID:       task.AppInstanceID,
			ProcessGUID:         task.ProcessGUID,
			ActivityGUID:        task.ActivityGUID,
			ActivityName:        task.ActivityName,
			AssignedToUserID:    task.AssignedToUserID,
			AssignedToUserName:  task.AssignedToUserName,
			State:               task.State,
			CreatedAt:           task.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status := Status{Engine: s.engine.Name(), Storage: "ok"}
	code := http.StatusOK
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			status.Storage = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func intParam(value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}

func writeJSON(w http.ResponseWriter, status int, resp interface{}) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error("Server error: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, resp ApiError) {
	writeJSON(w, status, resp)
}
