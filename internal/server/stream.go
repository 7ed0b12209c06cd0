package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/pkg/audio"
)

// finalWriteTimeout bounds the delivery of transcripts produced while a
// stream is being torn down.
const finalWriteTimeout = 5 * time.Second

// handleStream upgrades to a websocket and runs one session for the
// lifetime of the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	params, err := parseStreamParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The session outlives the read loop long enough to drain its queue.
	sessCtx := context.WithoutCancel(r.Context())
	sess, err := s.mgr.Open(sessCtx, params.opts)
	switch {
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, session.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dec, err := newDecoder(params, sess.SampleRate())
	if err != nil {
		_ = sess.Close()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		_ = sess.Close()
		s.log.Warn("stream: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	log := observe.SessionLogger(r.Context(), sess.ID())
	log.Info("stream connected", "encoding", params.encoding, "remote", r.RemoteAddr)

	ctx := r.Context()
	writeCtx, cancelWrites := context.WithCancel(sessCtx)
	defer cancelWrites()

	_ = wsjson.Write(ctx, conn, readyFrame{
		Type:       frameReady,
		SessionID:  sess.ID(),
		SampleRate: sess.SampleRate(),
		Encoding:   string(params.encoding),
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range sess.Results() {
			var frame any = transcriptFrame(ev)
			if ev.Err != nil {
				frame = errorFrame(ev.SessionID, ev.Err)
			}
			wctx, cancel := context.WithTimeout(writeCtx, finalWriteTimeout)
			err := wsjson.Write(wctx, conn, frame)
			cancel()
			if err != nil {
				log.Debug("stream: write failed, discarding remaining events", "err", err)
				audio.Drain(sess.Results())
				return
			}
		}
	}()

	closeReason := s.readLoop(ctx, conn, sess, dec)

	if err := sess.Close(); err != nil {
		log.Warn("stream: session close", "err", err)
	}
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, closeReason)
	log.Info("stream disconnected", "reason", closeReason)
}

// readLoop feeds client messages to sess until the client closes the stream
// or the connection fails. It returns a close reason for the peer.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, dec decoder) string {
	var overrides controlFrame
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st == websocket.StatusNormalClosure || st == websocket.StatusGoingAway {
				return "client closed"
			}
			if ctx.Err() != nil {
				return "server shutting down"
			}
			return "read failed"
		}

		chunk := session.Chunk{
			MinSilenceWindowMs: overrides.MinSilenceWindowMs,
			MaxSilenceMs:       overrides.MaxSilenceMs,
		}
		final := false

		switch typ {
		case websocket.MessageBinary:
			samples, err := dec.decode(msg)
			if err != nil {
				s.sendError(ctx, conn, sess.ID(), fmt.Errorf("decode audio: %w", err))
				continue
			}
			chunk.Samples = samples
		case websocket.MessageText:
			var cf controlFrame
			if err := json.Unmarshal(msg, &cf); err != nil {
				s.sendError(ctx, conn, sess.ID(), fmt.Errorf("invalid control frame: %w", err))
				continue
			}
			switch cf.Type {
			case frameFlush:
				chunk.Flush = true
			case frameConfig:
				if cf.MinSilenceWindowMs < 0 || cf.MaxSilenceMs < 0 {
					s.sendError(ctx, conn, sess.ID(), errors.New("silence parameters must not be negative"))
					continue
				}
				if cf.MinSilenceWindowMs > 0 {
					overrides.MinSilenceWindowMs = cf.MinSilenceWindowMs
				}
				if cf.MaxSilenceMs > 0 {
					overrides.MaxSilenceMs = cf.MaxSilenceMs
				}
				continue
			case frameClose:
				chunk.Flush = true
				final = true
			default:
				s.sendError(ctx, conn, sess.ID(), fmt.Errorf("unknown control frame type %q", cf.Type))
				continue
			}
		}

		if err := sess.Push(ctx, chunk); err != nil {
			return "session closed"
		}
		if final {
			return "client requested close"
		}
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, sessionID string, err error) {
	if werr := wsjson.Write(ctx, conn, errorFrame(sessionID, err)); werr != nil {
		s.log.Debug("stream: write error frame", "err", werr)
	}
}
