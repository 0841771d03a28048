// Package gateway orchestrates the disco-collab server components.
//
// # Overview
//
// The gateway package is the central coordinator of the disco-collab server.
// It owns the session manager, the WebSocket hub and its fan-out, the SQLite
// ledger, Prometheus metrics, the optional Redis broadcast relay, and the
// gRPC and HTTP servers that expose them.
//
// Event flow:
//
//	client ─ws─▶ hub.Dispatch ─▶ collab.Manager ─▶ hub.Fanout ─ws─▶ clients
//	                                  │
//	                                  └─▶ observers: metrics, ledger (async)
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (503 while draining or before the relay subscribes)
//   - GET /ws - WebSocket upgrade for the collaboration protocol
//   - GET /api/sessions - List live sessions
//   - GET /api/sessions/{id} - One session
//   - GET /api/history - Ledger rows by session_id, or by container_id and file_path
//   - POST /api/files/write - Push a completed file write into its live session
//   - POST /api/broadcast - System notice to users (admin when auth is enabled)
//   - GET /metrics - Prometheus, when metrics.enabled
//
// Every route except the health checks runs behind auth.HTTPAuthMiddleware.
//
// # gRPC
//
// The gRPC listener serves the standard grpc.health.v1 service. Both the
// overall status and HealthService report SERVING once the servers start and
// NOT_SERVING from the moment Shutdown begins.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Run also starts the relay subscriber, the idle-session sweeper when
// collaboration.idle_timeout is set, and ledger pruning when
// database.retention is set.
package gateway
