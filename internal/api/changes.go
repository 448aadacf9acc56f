package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/JakeFAU/realtime-ir-watcher/internal/monitor"
)

var severities = map[string]monitor.Severity{
	"minor":       monitor.SeverityMinor,
	"moderate":    monitor.SeverityModerate,
	"significant": monitor.SeveritySignificant,
	"critical":    monitor.SeverityCritical,
}

type comparison struct {
	FromSnapshotID int64    `json:"from_snapshot_id"`
	ToSnapshotID   int64    `json:"to_snapshot_id"`
	PageChanged    bool     `json:"page_changed"`
	NumbersChanged bool     `json:"numbers_changed"`
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	Changed        []string `json:"changed"`
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	var filter monitor.ChangeFilter
	var err error
	if filter.CompanyID, err = parseOptionalInt64(r, "company_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev, ok := severities[strings.ToLower(raw)]
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid severity")
			return
		}
		filter.Severity = sev
	}
	if filter.Since, err = parseOptionalTime(r, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Until, err = parseOptionalTime(r, "until"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, err = parseLimit(r, 100, maxListLimit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := s.svc.Store.ListChanges(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "changes")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) compareSnapshots(w http.ResponseWriter, r *http.Request) {
	fromID, err := parseOptionalInt64(r, "from_snapshot_id")
	if err != nil || fromID == nil {
		writeError(w, http.StatusBadRequest, "from_snapshot_id required")
		return
	}
	toID, err := parseOptionalInt64(r, "to_snapshot_id")
	if err != nil || toID == nil {
		writeError(w, http.StatusBadRequest, "to_snapshot_id required")
		return
	}
	from, err := s.svc.Store.GetSnapshot(r.Context(), *fromID)
	if err != nil {
		s.storeError(w, err, "snapshot")
		return
	}
	to, err := s.svc.Store.GetSnapshot(r.Context(), *toID)
	if err != nil {
		s.storeError(w, err, "snapshot")
		return
	}
	s.writeJSON(w, http.StatusOK, compare(from, to))
}

// compare diffs the section hashes of two snapshots.
func compare(from, to monitor.Snapshot) comparison {
	out := comparison{
		FromSnapshotID: from.ID,
		ToSnapshotID:   to.ID,
		PageChanged:    from.PageHash != to.PageHash,
		NumbersChanged: from.NumbersHash != to.NumbersHash,
		Added:          []string{},
		Removed:        []string{},
		Changed:        []string{},
	}
	for key, newHash := range to.SectionHashes {
		oldHash, ok := from.SectionHashes[key]
		switch {
		case !ok:
			out.Added = append(out.Added, key)
		case oldHash != newHash:
			out.Changed = append(out.Changed, key)
		}
	}
	for key := range from.SectionHashes {
		if _, ok := to.SectionHashes[key]; !ok {
			out.Removed = append(out.Removed, key)
		}
	}
	sortKeys(out.Added)
	sortKeys(out.Removed)
	sortKeys(out.Changed)
	return out
}

// sortKeys orders section keys numerically when they are indexes.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
}
