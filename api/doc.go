// Package api documents the FlowForge HTTP API.
//
// FlowForge exposes a RESTful API for:
//   - Executing and controlling workflow instances
//   - Working human tasks (start, submit, pause, reject, help, cancel)
//   - Operating agent tasks (inspect queue, retry, cancel)
//   - System status, alerts, and health monitoring
//
// # Authentication
//
// When API keys are configured, endpoints under /api/ require the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Human task endpoints additionally identify the caller via X-User-ID.
//
// # Base URL
//
// The default base URL is:
//
//	http://localhost:8080
package api
