package main

import (
	"net/http"

	"github.com/banshee-data/facetrack/internal/face/network"
	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/face/storage"
	"github.com/banshee-data/facetrack/internal/httputil"
	"github.com/banshee-data/facetrack/internal/version"
)

// status is the /api/status document.
type status struct {
	Version   version.Info         `json:"version"`
	Tracker   pipeline.Stats       `json:"tracker"`
	Sender    *network.SenderStats `json:"sender,omitempty"`
	UDP       *network.UDPStats    `json:"udp,omitempty"`
	WSClients int                  `json:"ws_clients"`
	WSDropped uint64               `json:"ws_dropped"`
	SessionID string               `json:"session_id,omitempty"`
}

// statusHandler reports live counters. Every component but the tracker is
// optional.
type statusHandler struct {
	tracker     *pipeline.Tracker
	sender      *network.AvatarSender
	udp         *network.UDPSource
	broadcaster *network.Broadcaster
	recorder    *storage.Recorder
}

func (h *statusHandler) snapshot() status {
	s := status{
		Version: version.Current(),
		Tracker: h.tracker.Stats(),
	}
	if h.sender != nil {
		st := h.sender.Stats()
		s.Sender = &st
	}
	if h.udp != nil {
		st := h.udp.Stats()
		s.UDP = &st
	}
	if h.broadcaster != nil {
		s.WSClients = h.broadcaster.Clients()
		s.WSDropped = h.broadcaster.Dropped()
	}
	if h.recorder != nil {
		s.SessionID = h.recorder.SessionID()
	}
	return s
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, h.snapshot())
}
