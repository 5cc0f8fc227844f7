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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Mentor routes with the router.
//
// Description:
//
//	Registers all /v1/mentor/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Pipeline Endpoints:
//
//	POST /v1/mentor/solve - Submit a problem and run the pipeline
//	POST /v1/mentor/clarify - Resume a suspended session with an answer
//	POST /v1/mentor/abort - Cancel a session
//	POST /v1/mentor/feedback - Attach a verdict to a finished session
//
// Session Endpoints:
//
//	GET  /v1/mentor/session/:id - Session state with audit history
//	GET  /v1/mentor/sessions - List sessions
//	GET  /v1/mentor/events/:id - Websocket stream of session events
//
// Health Endpoints:
//
//	GET  /v1/mentor/health - Health check
//	GET  /v1/mentor/ready - Readiness check
//
// Example:
//
//	svc, _ := mentor.NewService(cfg, deps)
//	handlers := mentor.HandlersFor(svc)
//
//	v1 := router.Group("/v1")
//	mentor.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	RegisterRoutesWithMiddleware(rg, handlers, nil)
}

// RegisterRoutesWithMiddleware registers Mentor routes with optional
// middleware on the pipeline endpoints.
//
// Description:
//
//	Same as RegisterRoutes but applies the given middleware (e.g. a
//	warmup guard) to the four pipeline operations. Session inspection,
//	the event stream, and the health endpoints stay unguarded so probes
//	and dashboards keep working while the reasoning model loads.
//
// Inputs:
//
//	rg - The router group to register routes under.
//	handlers - The handlers instance.
//	middleware - Optional middleware for the pipeline endpoints. Can be nil.
//
// Thread Safety: This function is safe for concurrent use.
func RegisterRoutesWithMiddleware(rg *gin.RouterGroup, handlers *Handlers, middleware gin.HandlerFunc) {
	mentor := rg.Group("/mentor")
	{
		// Pipeline operations
		var ops *gin.RouterGroup
		if middleware != nil {
			ops = mentor.Group("", middleware)
		} else {
			ops = mentor.Group("")
		}
		ops.POST("/solve", handlers.HandleSolve)
		ops.POST("/clarify", handlers.HandleClarify)
		ops.POST("/abort", handlers.HandleAbort)
		ops.POST("/feedback", handlers.HandleFeedback)

		// Session inspection
		mentor.GET("/session/:id", handlers.HandleSessionState)
		mentor.GET("/sessions", handlers.HandleListSessions)
		mentor.GET("/events/:id", handlers.HandleEventStream)

		// Health
		mentor.GET("/health", handlers.HandleHealth)
		mentor.GET("/ready", handlers.HandleReady)
	}
}
