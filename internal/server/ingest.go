package server

import (
	"errors"
	"net/http"

	"github.com/ssd-technologies/hardhat/internal/alert"
	"github.com/ssd-technologies/hardhat/internal/ingest"
)

// sensorResponse is returned to the helmet after every accepted payload.
type sensorResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Alerts  []alert.Alert `json:"alerts"`
}

// handleSensorData accepts a helmet payload in any of the known field
// spellings.
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(w, r)
	if err != nil {
		s.metrics.IncRejected("bad_json")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.svc.IngestHelmet(p)
	if errors.Is(err, ingest.ErrMissingWorkerID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	resp := sensorResponse{Success: true, Message: "data received"}
	if len(rec.Alerts) > 0 {
		resp.Alerts = rec.Alerts
	}
	writeJSON(w, http.StatusOK, resp)
}
