package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
	"github.com/JakeFAU/realtime-ir-watcher/internal/normalize"
)

// firstScanDelay schedules a new company's first scan.
const firstScanDelay = time.Minute

type createCompanyRequest struct {
	Name                string `json:"name"`
	BaseURL             string `json:"base_url"`
	IRURL               string `json:"ir_url"`
	ScanIntervalMinutes *int   `json:"scan_interval_minutes"`
}

type updateCompanyRequest struct {
	IRURL               *string `json:"ir_url"`
	ScanIntervalMinutes *int    `json:"scan_interval_minutes"`
	IsActive            *bool   `json:"is_active"`
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	baseURL, err := webURL(req.BaseURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base_url")
		return
	}
	irURL := ""
	if req.IRURL != "" {
		if irURL, err = webURL(req.IRURL); err != nil {
			writeError(w, http.StatusBadRequest, "invalid ir_url")
			return
		}
	}
	interval := s.cfg.Scan.IntervalMinutes
	if req.ScanIntervalMinutes != nil {
		if *req.ScanIntervalMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "scan_interval_minutes must be positive")
			return
		}
		interval = *req.ScanIntervalMinutes
	}

	next := s.clock.Now().Add(firstScanDelay)
	company, err := s.svc.Store.CreateCompany(r.Context(), monitor.Company{
		Name:                req.Name,
		BaseURL:             baseURL,
		IRURL:               irURL,
		ScanIntervalMinutes: interval,
		IsActive:            true,
		NextScanAt:          &next,
	})
	if err != nil {
		s.storeError(w, err, "company")
		return
	}
	s.logger.Info("company registered", zap.Int64("company_id", company.ID), zap.String("base_url", baseURL))
	s.writeJSON(w, http.StatusCreated, company)
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.svc.Store.ListCompanies(r.Context())
	if err != nil {
		s.storeError(w, err, "companies")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	company, err := s.svc.Store.GetCompany(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "company")
		return
	}
	s.writeJSON(w, http.StatusOK, company)
}

func (s *Server) updateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	company, err := s.svc.Store.GetCompany(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "company")
		return
	}
	if req.IRURL != nil {
		if *req.IRURL == "" {
			company.IRURL = ""
			company.IRConfidence = 0
		} else {
			irURL, err := webURL(*req.IRURL)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid ir_url")
				return
			}
			company.IRURL = irURL
			company.IRConfidence = 1
		}
	}
	if req.ScanIntervalMinutes != nil {
		if *req.ScanIntervalMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "scan_interval_minutes must be positive")
			return
		}
		company.ScanIntervalMinutes = *req.ScanIntervalMinutes
	}
	if req.IsActive != nil {
		company.IsActive = *req.IsActive
	}
	if err := s.svc.Store.UpdateCompany(r.Context(), company); err != nil {
		s.storeError(w, err, "company")
		return
	}
	s.writeJSON(w, http.StatusOK, company)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.companyListParams(w, r)
	if !ok {
		return
	}
	snaps, err := s.svc.Store.ListSnapshots(r.Context(), id, limit)
	if err != nil {
		s.storeError(w, err, "snapshots")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"company_id": id, "snapshots": snaps})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.companyListParams(w, r)
	if !ok {
		return
	}
	docs, err := s.svc.Store.ListDocuments(r.Context(), id, limit)
	if err != nil {
		s.storeError(w, err, "documents")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"company_id": id, "documents": docs})
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	if s.svc.Discovery == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery unavailable")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	company, err := s.svc.Store.GetCompany(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "company")
		return
	}
	result, err := s.svc.Discovery.Discover(r.Context(), company.BaseURL)
	if err != nil {
		s.logger.Warn("ir discovery failed", zap.Int64("company_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "discovery failed")
		return
	}
	if result.Found() {
		if err := s.svc.Store.UpdateIRURL(r.Context(), id, result.IRURL, result.Confidence); err != nil {
			s.storeError(w, err, "company")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"company_id": id,
		"found":      result.Found(),
		"ir_url":     result.IRURL,
		"confidence": result.Confidence,
		"candidates": result.Candidates,
	})
}

// companyListParams reads {id} and ?limit= and confirms the company exists.
func (s *Server) companyListParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	limit, err := parseLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	if _, err := s.svc.Store.GetCompany(r.Context(), id); err != nil {
		s.storeError(w, err, "company")
		return 0, 0, false
	}
	return id, limit, true
}

func webURL(raw string) (string, error) {
	u, err := normalize.URL(raw, "")
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("url must be http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("url host required")
	}
	return u, nil
}
