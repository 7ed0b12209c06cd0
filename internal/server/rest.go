package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/internal/transcript"
	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/segment"
)

// TranscribeResponse is the body of a successful POST /v1/transcribe.
type TranscribeResponse struct {
	SessionID   string            `json:"session_id"`
	DurationMs  int               `json:"duration_ms"`
	Transcripts []TranscriptFrame `json:"transcripts"`
	Errors      []string          `json:"errors,omitempty"`
}

// TranscriptsResponse is the body of the transcript listing endpoints.
type TranscriptsResponse struct {
	SessionID   string             `json:"session_id,omitempty"`
	Transcripts []transcript.Entry `json:"transcripts"`
}

// handleTranscribe decodes a WAV body and runs it through a stream-mode
// session with a final flush. Query parameters: language, session_id.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	wav, err := audio.DecodeWAV(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds max_upload_bytes")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = uuid.NewString()
	}
	opts := session.Options{
		ID:       id,
		Language: r.URL.Query().Get("language"),
		Mode:     session.ModeStream,
	}
	rate := s.mgr.Settings().Segment.SampleRate
	if rate == 0 {
		rate = segment.DefaultSampleRate
	}
	samples := audio.Resample(wav.Samples, wav.SampleRate, rate)

	events, err := s.mgr.Transcribe(r.Context(), samples, opts, session.DefaultBatchChunkMs)
	switch {
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, session.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TranscribeResponse{
		SessionID:   id,
		DurationMs:  audio.DurationMs(len(wav.Samples), wav.SampleRate),
		Transcripts: []TranscriptFrame{},
	}
	for _, ev := range events {
		if ev.Err != nil {
			resp.Errors = append(resp.Errors, ev.Err.Error())
			continue
		}
		resp.Transcripts = append(resp.Transcripts, transcriptFrame(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListTranscripts serves GET /v1/sessions/{id}/transcripts. Query
// parameters: after (sequence number), limit.
func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "transcript storage is disabled")
		return
	}
	after, err := queryInt(r, "after")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.PathValue("id")
	entries, err := s.store.List(r.Context(), id, transcript.ListOptions{AfterSeq: after, Limit: limit})
	if err != nil {
		s.log.Error("server: list transcripts", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	writeJSON(w, http.StatusOK, TranscriptsResponse{SessionID: id, Transcripts: entries})
}

// handleSearchTranscripts serves GET /v1/transcripts?q=...&limit=...
func (s *Server) handleSearchTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "transcript storage is disabled")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = 50
	}

	entries, err := s.store.Search(r.Context(), q, limit)
	if err != nil {
		s.log.Error("server: search transcripts", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to search transcripts")
		return
	}
	writeJSON(w, http.StatusOK, TranscriptsResponse{Transcripts: entries})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
