package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// TriggerManual marks scans requested through the API.
const TriggerManual = "manual"

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.svc.Store.GetCompany(r.Context(), id); err != nil {
		s.storeError(w, err, "company")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.svc.Submitter.Submit(ctx, id, TriggerManual); err != nil {
		s.logger.Warn("enqueue scan failed", zap.Int64("company_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "scan queue unavailable")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"company_id": id, "queued": true})
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.svc.Store.GetCompany(r.Context(), id); err != nil {
		s.storeError(w, err, "company")
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Scanner.RunScan(r.Context(), id))
}

func (s *Server) scanStatus(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.companyListParams(w, r)
	if !ok {
		return
	}
	company, err := s.svc.Store.GetCompany(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "company")
		return
	}
	runs, err := s.svc.Store.ListScanRuns(r.Context(), id, limit)
	if err != nil {
		s.storeError(w, err, "scan runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"company_id":      id,
		"last_scanned_at": company.LastScannedAt,
		"next_scan_at":    company.NextScanAt,
		"runs":            runs,
	})
}

func (s *Server) schedulerTick(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Ticker.Tick(r.Context())
	if err != nil {
		s.logger.Error("manual scheduler tick failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scheduler tick failed")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) schedulerState(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.Store.GetSchedulerState(r.Context())
	if err != nil {
		s.storeError(w, err, "scheduler state")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}
