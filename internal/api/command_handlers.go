package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/recon"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// HandleSetMode switches the operational mode
func (s *RESTServer) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	var req models.ModeRequest
	if !s.decode(w, r, &req) {
		return
	}

	mode, _ := models.ParseMode(req.Mode)
	var target *models.Target
	if req.BSSID != "" {
		target = &models.Target{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID}
	}

	s.runCommand(w, r, "mode", s.engine.SetMode(r.Context(), mode, target))
}

// HandleSetTarget selects the capture target
func (s *RESTServer) HandleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req models.TargetRequest
	if !s.decode(w, r, &req) {
		return
	}

	target := models.Target{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID}
	if target.SSID == "" {
		if ap, ok := s.engine.Snapshot().AccessPoint(target.BSSID); ok {
			target.SSID = ap.SSID
		}
	}

	s.runCommand(w, r, "target", s.engine.SetTarget(r.Context(), target))
}

// HandleStartCapture starts capturing the selected target
func (s *RESTServer) HandleStartCapture(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "capture_start", s.engine.StartCapture(r.Context()))
}

// HandleStopCapture aborts the running capture
func (s *RESTServer) HandleStopCapture(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "capture_stop", s.engine.StopCapture(r.Context()))
}

// HandleDeauth fires one manual deauthentication burst
func (s *RESTServer) HandleDeauth(w http.ResponseWriter, r *http.Request) {
	var req models.DeauthCommand
	if !s.decode(w, r, &req) {
		return
	}

	deauth := recon.DeauthRequest{BSSID: dot11.MustParseMAC(req.BSSID), SSID: req.SSID}
	if req.Client != "" {
		client := dot11.MustParseMAC(req.Client)
		deauth.Client = &client
	}

	s.runCommand(w, r, "deauth", s.engine.SendDeauth(r.Context(), deauth))
}

// HandleReset acknowledges the error state
func (s *RESTServer) HandleReset(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, "reset", s.engine.Reset(r.Context()))
}

// runCommand answers with the fresh status or maps the command error
func (s *RESTServer) runCommand(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err == nil {
		log.Info().Str("op", op).Str("remote", r.RemoteAddr).Msg("Command accepted")
		s.respondJSON(w, http.StatusOK, newStatus(s.config.Device.Name, s.engine.Snapshot(), time.Now()))
		return
	}

	var rejected *recon.RejectedError
	switch {
	case errors.As(err, &rejected):
		log.Info().Str("op", op).Str("code", rejected.Code).Msg("Command rejected")
		s.respondJSON(w, http.StatusConflict, map[string]string{
			"error": rejected.Message,
			"code":  rejected.Code,
		})
	case errors.Is(err, recon.ErrNotRunning):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		s.respondError(w, http.StatusGatewayTimeout, "command timed out")
	default:
		log.Error().Err(err).Str("op", op).Msg("Command failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
