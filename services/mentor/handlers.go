// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mentor

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/MathMentor/services/mentor/events"
	"github.com/AleutianAI/MathMentor/services/mentor/pipeline"
	"github.com/AleutianAI/MathMentor/services/mentor/problem"
)

// ServiceVersion is the Math Mentor service version.
const ServiceVersion = "0.1.0"

// Handlers holds the HTTP handlers for the mentor service.
//
// Thread Safety: Handlers is stateless; all methods are safe for
// concurrent use.
type Handlers struct {
	loop    pipeline.Loop
	emitter *events.Emitter
	svc     *Service
}

// NewHandlers creates the handler set.
//
// Inputs:
//
//	loop - The pipeline driver. Must not be nil.
//	emitter - The session event emitter for the websocket stream. May be
//	nil, which disables the stream endpoint.
//	svc - The owning service, for readiness stats. May be nil in tests.
func NewHandlers(loop pipeline.Loop, emitter *events.Emitter, svc *Service) *Handlers {
	return &Handlers{loop: loop, emitter: emitter, svc: svc}
}

// HandlersFor creates the handler set wired to a service.
func HandlersFor(svc *Service) *Handlers {
	return NewHandlers(svc.Loop(), svc.Events(), svc)
}

// HandleSolve handles POST /v1/mentor/solve.
//
// Description:
//
//	Submits a new math problem. The pipeline runs until the session
//	reaches a terminal state or suspends in ESCALATED with a
//	clarification question. The response carries whichever the run
//	produced.
//
// Request Body:
//
//	SolveRequest
//
// Response:
//
//	200 OK: SolveResponse
//	400 Bad Request: Invalid body or blank problem text
//	429 Too Many Requests: Concurrent session cap reached
//	500 Internal Server Error: Processing error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleSolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSolve")

	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		logger.Warn("blank problem text")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "text must not be blank",
			Code:  "EMPTY_PROBLEM",
		})
		return
	}

	session := pipeline.NewSession()
	logger.Info("starting tutoring session",
		"session_id", session.ID,
		"chars", len(req.Text))

	result, err := h.loop.Run(c.Request.Context(), session, req.Text)
	if err != nil {
		h.writePipelineError(c, logger, err)
		return
	}

	logger.Info("tutoring session stopped",
		"session_id", result.SessionID,
		"state", result.State,
		"retries", result.Retries,
		"escalation_rounds", result.EscalationRounds)

	c.JSON(http.StatusOK, solveResponseFrom(result))
}

// HandleClarify handles POST /v1/mentor/clarify.
//
// Description:
//
//	Resumes a suspended session with a reviewer's answer. The answer
//	must either pick one of the offered interpretations or supply
//	additional problem text, never both.
//
// Request Body:
//
//	ClarifyRequest
//
// Response:
//
//	200 OK: SolveResponse
//	400 Bad Request: Invalid body, malformed answer, or unknown interpretation
//	404 Not Found: Session not found
//	409 Conflict: Session not awaiting clarification or already running
//	500 Internal Server Error: Processing error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleClarify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClarify")

	var req ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	answer := problem.ClarificationResponse{
		ChosenInterpretation: req.ChosenInterpretation,
		AdditionalText:       req.AdditionalText,
	}
	if err := answer.Validate(); err != nil {
		logger.Warn("malformed clarification answer", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_CLARIFICATION",
		})
		return
	}

	logger.Info("resuming session",
		"session_id", req.SessionID,
		"chose_interpretation", req.ChosenInterpretation != "")

	result, err := h.loop.Continue(c.Request.Context(), req.SessionID, answer)
	if err != nil {
		h.writePipelineError(c, logger, err)
		return
	}

	logger.Info("resumed session stopped",
		"session_id", result.SessionID,
		"state", result.State,
		"escalation_rounds", result.EscalationRounds)

	c.JSON(http.StatusOK, solveResponseFrom(result))
}

// HandleAbort handles POST /v1/mentor/abort.
//
// Description:
//
//	Cancels a session. Suspended sessions are recorded as abandoned,
//	active ones as failed. Aborting an already finished session is a
//	no-op.
//
// Request Body:
//
//	AbortRequest
//
// Response:
//
//	200 OK: Success message
//	404 Not Found: Session not found
//	500 Internal Server Error: Processing error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAbort(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAbort")

	var req AbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("aborting session", "session_id", req.SessionID)

	if err := h.loop.Abort(c.Request.Context(), req.SessionID); err != nil {
		h.writePipelineError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Session aborted",
		"session_id": req.SessionID,
	})
}

// HandleFeedback handles POST /v1/mentor/feedback.
//
// Description:
//
//	Attaches a user verdict to a finished session. The verdict feeds the
//	interaction memory and analytics so future recall reflects how the
//	answer landed.
//
// Request Body:
//
//	FeedbackRequest
//
// Response:
//
//	200 OK: Success message
//	400 Bad Request: Invalid body or unknown verdict type
//	404 Not Found: Session not found
//	409 Conflict: Session has not finished
//	500 Internal Server Error: Processing error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleFeedback(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFeedback")

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	fb := &problem.Feedback{
		Type:              problem.FeedbackType(req.Type),
		Comment:           req.Comment,
		CorrectedSolution: req.CorrectedSolution,
		CreatedAt:         time.Now().UTC(),
	}

	logger.Info("recording feedback", "session_id", req.SessionID, "verdict", req.Type)

	if err := h.loop.Feedback(c.Request.Context(), req.SessionID, fb); err != nil {
		h.writePipelineError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Feedback recorded",
		"session_id": req.SessionID,
	})
}

// HandleSessionState handles GET /v1/mentor/session/:id.
//
// Description:
//
//	Retrieves the current state of a session together with its full
//	audit trail: stage executions, state transitions, clarification
//	round trips, and aborts.
//
// Path Parameters:
//
//	id: Session ID (required)
//
// Response:
//
//	200 OK: SessionStateResponse
//	404 Not Found: Session not found
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleSessionState(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSessionState")

	sessionID := c.Param("id")
	if sessionID == "" {
		logger.Warn("missing session id")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	session, err := h.loop.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.writePipelineError(c, logger, err)
		return
	}

	snap := session.Snapshot()
	resp := SessionStateResponse{
		SessionID:        snap.ID,
		State:            string(snap.State),
		Category:         string(snap.Category),
		Confidence:       snap.Confidence,
		Steps:            snap.Steps,
		Retries:          snap.Retries,
		EscalationRounds: snap.EscalationRounds,
		Clarification:    snap.Clarification,
		Error:            snap.Error,
		CreatedAt:        snap.CreatedAt / 1000, // Convert millis to seconds
		LastActiveAt:     snap.LastActiveAt / 1000,
		History:          session.HistoryTrail(),
		Rounds:           session.RoundHistory(),
	}

	logger.Info("got session state", "session_id", sessionID, "state", snap.State)

	c.JSON(http.StatusOK, resp)
}

// HandleListSessions handles GET /v1/mentor/sessions.
//
// Description:
//
//	Lists every known session, live and suspended, as summaries ordered
//	by session ID.
//
// Response:
//
//	200 OK: SessionListResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSessions")

	ids, err := h.loop.ListSessions(c.Request.Context())
	if err != nil {
		logger.Error("list sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}

	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		snap, serr := h.loop.GetState(c.Request.Context(), id)
		if serr != nil {
			// Session closed between list and read; skip it.
			continue
		}
		summaries = append(summaries, SessionSummary{
			SessionID:        snap.ID,
			State:            string(snap.State),
			Category:         string(snap.Category),
			Retries:          snap.Retries,
			EscalationRounds: snap.EscalationRounds,
			CreatedAt:        snap.CreatedAt / 1000,
		})
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Sessions: summaries,
		Count:    len(summaries),
	})
}

// HandleHealth handles GET /v1/mentor/health.
//
// Description:
//
//	Returns the health status of the service. Always returns 200 if running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/mentor/ready.
//
// Description:
//
//	Returns the readiness status of the service including dependency
//	availability. Returns 503 Service Unavailable until startup warmup
//	has completed.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true) - Service is fully ready
//	503 Service Unavailable: ReadyResponse (Ready=false) - Warmup in progress
func (h *Handlers) HandleReady(c *gin.Context) {
	warmupComplete := IsWarmupComplete()

	resp := ReadyResponse{Ready: warmupComplete}
	if h.svc != nil {
		resp.Sessions = h.svc.SessionCount(c.Request.Context())
		resp.ReasoningOK = h.svc.HasReasoning()
		resp.MemoryOK = h.svc.HasMemory()
	}

	if !warmupComplete {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writePipelineError maps a driver error to an HTTP response.
func (h *Handlers) writePipelineError(c *gin.Context, logger *slog.Logger, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "PIPELINE_ERROR"

	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errCode = "SESSION_NOT_FOUND"
	case errors.Is(err, pipeline.ErrEmptyProblem):
		statusCode = http.StatusBadRequest
		errCode = "EMPTY_PROBLEM"
	case errors.Is(err, pipeline.ErrUnknownInterpretation):
		statusCode = http.StatusBadRequest
		errCode = "UNKNOWN_INTERPRETATION"
	case errors.Is(err, pipeline.ErrInvalidFeedback):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_FEEDBACK"
	case errors.Is(err, pipeline.ErrNotSuspended):
		statusCode = http.StatusConflict
		errCode = "NOT_SUSPENDED"
	case errors.Is(err, pipeline.ErrNotTerminal):
		statusCode = http.StatusConflict
		errCode = "SESSION_NOT_FINISHED"
	case errors.Is(err, pipeline.ErrSessionInProgress):
		statusCode = http.StatusConflict
		errCode = "SESSION_IN_PROGRESS"
	case errors.Is(err, pipeline.ErrInvalidTransition):
		statusCode = http.StatusConflict
		errCode = "INVALID_SESSION_STATE"
	case errors.Is(err, pipeline.ErrTooManyActive):
		statusCode = http.StatusTooManyRequests
		errCode = "TOO_MANY_SESSIONS"
	}

	logger.Error("pipeline call failed", "error", err, "code", errCode)
	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// solveResponseFrom maps a run result onto the wire shape.
func solveResponseFrom(result *pipeline.RunResult) SolveResponse {
	return SolveResponse{
		SessionID:        result.SessionID,
		State:            string(result.State),
		Explanation:      result.Explanation,
		Clarification:    result.Clarification,
		Attempts:         result.Attempts,
		Retries:          result.Retries,
		EscalationRounds: result.EscalationRounds,
		Error:            result.Error,
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
