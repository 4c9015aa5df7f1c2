package server

import (
	"errors"
	"net/http"

	"github.com/ssd-technologies/hardhat/internal/ingest"
	"github.com/ssd-technologies/hardhat/internal/registry"
)

type registerResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Worker  registry.Info `json:"worker"`
}

// handleListWorkers returns every live worker record.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Workers())
}

// handleGetWorker returns one worker record or 404.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.svc.Worker(r.PathValue("workerId"))
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRegister stores registration details for a worker.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.svc.Register(ingest.RegistrationFromPayload(p))
	if errors.Is(err, ingest.ErrMissingWorkerID) || errors.Is(err, ingest.ErrMissingName) {
		writeError(w, http.StatusBadRequest, "workerId and name are required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Success: true,
		Message: "worker registered",
		Worker:  info,
	})
}

// handleListRegistrations returns every registration.
func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Registrations())
}
