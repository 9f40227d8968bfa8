// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ObiyaDev/obiya-examples-sub000/services/review/events"
)

const (
	streamBuffer = 256
	writeTimeout = 10 * time.Second
)

type wsUpgrader = websocket.Upgrader

func newUpgrader() wsUpgrader {
	return websocket.Upgrader{
		CheckOrigin:     func(*http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
	}
}

// handleEvents handles GET /v1/reviews/:id/events.
//
// Description:
//
//	Upgrades to a websocket, sends the buffered events of the review and
//	then every new one as JSON text frames. The server closes the stream
//	after a terminal event (review.completed or review.error), or right
//	after the replay when the review is not running here.
func (s *Server) handleEvents(c *gin.Context) {
	id, ok := reviewID(c)
	if !ok {
		return
	}
	r, known := s.lookup(id)
	running := known && !r.finished()
	if !known {
		if _, err := s.deps.Store.Load(c.Request.Context(), id); err != nil {
			storeError(c, err)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	live := make(chan events.Event, streamBuffer)
	past, subID := s.deps.Emitter.ReplayAndSubscribe(id, func(ev *events.Event) {
		select {
		case live <- *ev:
		default:
			s.logger.Warn("event stream full, dropping event",
				slog.String("review_id", id),
				slog.String("event_type", string(ev.Type)),
			)
		}
	})
	defer s.deps.Emitter.Unsubscribe(subID)

	for _, ev := range past {
		if err := s.send(ws, ev); err != nil {
			return
		}
		if ev.Type.IsTerminal() {
			s.closeStream(ws)
			return
		}
	}
	if !running {
		s.closeStream(ws)
		return
	}

	// Reader: detects client disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-live:
			if err := s.send(ws, ev); err != nil {
				return
			}
			if ev.Type.IsTerminal() {
				s.closeStream(ws)
				return
			}
		case <-gone:
			return
		case <-s.baseCtx.Done():
			s.closeStream(ws)
			return
		}
	}
}

func (s *Server) send(ws *websocket.Conn, ev events.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(ev); err != nil {
		s.logger.Debug("failed to write websocket event", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *Server) closeStream(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}
