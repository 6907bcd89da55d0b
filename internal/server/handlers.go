package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fotad.sh/internal/events"
	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
	"fotad.sh/internal/rollout"
	"fotad.sh/internal/version"
)

// errorResponse is the JSON envelope every failed request gets.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := ferrors.GetCode(err)
	s.respondJSON(w, statusForCode(code), errorResponse{
		Error: err.Error(),
		Code:  string(code),
	})
}

// statusForCode maps error codes to HTTP status. Remote-side failure codes
// never reach the API directly (they end up in history rows), so everything
// unrecognized is a 500.
func statusForCode(code ferrors.ErrorCode) int {
	switch code {
	case ferrors.ErrCodeValidation:
		return http.StatusBadRequest
	case ferrors.ErrCodeNotFound:
		return http.StatusNotFound
	case ferrors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, ferrors.Wrap(err, ferrors.ErrCodeValidation, "invalid request body"))
		return false
	}
	return true
}

// handleHealth reports liveness and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// --- Routers ---

func (s *Server) handleListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := s.store.ListRouters(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, routers)
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountRoutersByStatus(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}

// createRouterRequest carries the writable router fields. Password arrives
// in plain JSON here but never leaves again; the Router model hides it.
type createRouterRequest struct {
	DeviceName string  `json:"device_name"`
	IPAddress  string  `json:"ip_address"`
	Username   *string `json:"username,omitempty"`
	Password   *string `json:"password,omitempty"`
}

func (s *Server) handleCreateRouter(w http.ResponseWriter, r *http.Request) {
	var req createRouterRequest
	if !s.decode(w, r, &req) {
		return
	}

	router := &models.Router{
		DeviceName: req.DeviceName,
		IPAddress:  req.IPAddress,
		Username:   req.Username,
		Password:   req.Password,
	}
	if err := router.Validate(); err != nil {
		s.respondError(w, ferrors.Wrap(err, ferrors.ErrCodeValidation, "invalid router"))
		return
	}
	if err := s.store.CreateRouter(r.Context(), router); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, router)
}

type importRoutersRequest struct {
	Routers []createRouterRequest `json:"routers"`
}

func (s *Server) handleImportRouters(w http.ResponseWriter, r *http.Request) {
	var req importRoutersRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Routers) == 0 {
		s.respondError(w, ferrors.New(ferrors.ErrCodeValidation, "no routers to import"))
		return
	}

	routers := make([]models.Router, 0, len(req.Routers))
	for i, entry := range req.Routers {
		router := models.Router{
			DeviceName: entry.DeviceName,
			IPAddress:  entry.IPAddress,
			Username:   entry.Username,
			Password:   entry.Password,
		}
		if err := router.Validate(); err != nil {
			s.respondError(w, ferrors.Wrapf(err, ferrors.ErrCodeValidation, "router %d", i+1))
			return
		}
		routers = append(routers, router)
	}

	imported, err := s.store.ImportRouters(r.Context(), routers)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (s *Server) handleGetRouter(w http.ResponseWriter, r *http.Request) {
	router, err := s.store.GetRouter(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, router)
}

func (s *Server) handleDeleteRouter(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRouter(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteAllRouters(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteAllRouters(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// --- Scan ---

type scanRequest struct {
	RouterIDs []string `json:"routerIds,omitempty"`
}

// handleScan launches a fleet firmware check in the background. Progress
// streams over the event bus under the reserved job id.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	// An empty body means "scan everything"; chunked requests carry no
	// Content-Length, so the body itself decides.
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, ferrors.Wrap(err, ferrors.ErrCodeValidation, "invalid request body"))
		return
	}

	if s.scanner.Busy() {
		s.respondError(w, ferrors.New(ferrors.ErrCodeConflict, "a scan is already running"))
		return
	}
	active, err := s.store.ActiveJob(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if active != nil {
		s.respondError(w, ferrors.Newf(ferrors.ErrCodeConflict,
			"an update job is already active: %s", active.ID))
		return
	}

	// Detached from the request: the scan outlives this response and
	// reports through events and the store.
	go func() {
		if _, err := s.scanner.Scan(context.Background(), req.RouterIDs); err != nil {
			s.logger.Error("scan failed", "error", err)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{"jobId": events.ScanJobID})
}

// --- Settings ---

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	username, password, err := s.store.Credentials(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	// The password itself is never echoed back.
	s.respondJSON(w, http.StatusOK, map[string]any{
		"username":    username,
		"passwordSet": password != "",
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.respondError(w, ferrors.New(ferrors.ErrCodeValidation, "username is required"))
		return
	}
	if err := s.store.SetCredentials(r.Context(), req.Username, req.Password); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleGetBatchWait(w http.ResponseWriter, r *http.Request) {
	minutes, err := s.store.BatchWaitMinutes(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"minutes": minutes})
}

type batchWaitRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleSetBatchWait(w http.ResponseWriter, r *http.Request) {
	var req batchWaitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.SetBatchWaitMinutes(r.Context(), req.Minutes); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"minutes": req.Minutes})
}

// --- Firmware versions ---

func (s *Server) handleListFirmwareVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListFirmwareVersions(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, versions)
}

type firmwareVersionRequest struct {
	DevicePrefix  string `json:"devicePrefix"`
	LatestVersion string `json:"latestVersion"`
}

func (s *Server) handleUpsertFirmwareVersion(w http.ResponseWriter, r *http.Request) {
	var req firmwareVersionRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.store.UpsertFirmwareVersion(r.Context(), req.DevicePrefix, req.LatestVersion)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteFirmwareVersion(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFirmwareVersion(r.Context(), mux.Vars(r)["prefix"]); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// --- Rollouts ---

func (s *Server) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	var req rollout.StartRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.rollout.Start(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleActiveRollout(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.ActiveJob(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if job == nil {
		s.respondError(w, ferrors.New(ferrors.ErrCodeNotFound, "no active rollout"))
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelRollout(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := s.rollout.Cancel(r.Context(), jobID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": "cancelling",
	})
}

// --- History ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, ferrors.New(ferrors.ErrCodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	var (
		records []*models.UpdateHistory
		err     error
	)
	if routerID := r.URL.Query().Get("routerId"); routerID != "" {
		records, err = s.store.HistoryForRouter(r.Context(), routerID, limit)
	} else {
		records, err = s.store.RecentHistory(r.Context(), limit)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}
