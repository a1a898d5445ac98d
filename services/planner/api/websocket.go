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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
}

// wsReadLimit bounds one client message.
const wsReadLimit = 64 * 1024

// WSEvent is every message the server sends on a session socket.
type WSEvent struct {
	SessionID string      `json:"session_id"`
	Output    *OutputJSON `json:"output,omitempty"`
	Done      bool        `json:"done"`
	Error     string      `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleSessionSocket drives an open session over a WebSocket.
//
// # Description
//
// On connect the server sends the session ID and, when one is waiting,
// the pending proposal. Each client message is a ResumeRequest and is
// answered with the next output. The server closes the socket after the
// goal, or when the session is gone.
func (s *Server) HandleSessionSocket(c *gin.Context) {
	id := c.Param("id")
	pending, ok, err := s.sessions.Pending(id)
	if err != nil {
		s.fail(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsReadLimit)

	logger := s.logger.With(slog.String("session_id", id))
	logger.Info("websocket client connected")

	hello := WSEvent{SessionID: id}
	if ok {
		o := outputJSON(pending)
		hello.Output = &o
	}
	if err := sendJSON(ws, hello); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		var req ResumeRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if err := apiValidate.Struct(&req); err != nil {
			if sendJSON(ws, WSEvent{SessionID: id, Error: err.Error()}) != nil {
				return
			}
			continue
		}
		reply, _ := ParseReply(req.Reply)

		out, err := s.sessions.Resume(ctx, id, reply)
		if err != nil {
			_ = sendJSON(ws, WSEvent{SessionID: id, Error: err.Error(), Done: terminal(err)})
			if terminal(err) {
				closeSocket(ws, websocket.CloseNormalClosure, "session ended")
				return
			}
			continue
		}

		o := outputJSON(out)
		done := out.Kind == engine.OutputGoal
		if err := sendJSON(ws, WSEvent{SessionID: id, Output: &o, Done: done}); err != nil {
			return
		}
		if done {
			closeSocket(ws, websocket.CloseNormalClosure, "goal reached")
			return
		}
	}
}

// terminal reports whether err leaves nothing to resume.
func terminal(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, engine.ErrClosed)
}

func closeSocket(ws *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
