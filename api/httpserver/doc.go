// Package httpserver provides a reusable HTTP server implementation with common functionality
// for the simulation service binaries.
//
// The httpserver package implements a base HTTP server with standard health endpoints,
// graceful shutdown capabilities, metrics, and flexible routing. The run API registers
// its routes through the RouteRegistrar interface and inherits the operational surface
// without repeating it.
//
// # Key Components
//
//   - BaseServer: Core HTTP server with health checks, metrics, and lifecycle management
//   - RouteRegistrar: Interface for components to register their routes with the server
//
// # Server Lifecycle
//
// The BaseServer implements a complete server lifecycle:
//
//  1. Initialization: Configure server with HTTP settings and route registrars
//  2. Startup: Run HTTP and metrics servers in background goroutines
//  3. Operation: Handle requests with proper logging and monitoring
//  4. Readiness Control: Support drain/undrain operations for load balancers
//  5. Graceful Shutdown: Wait for in-flight requests to complete
//
// # Health and Diagnostics
//
// All servers built with BaseServer automatically include:
//
//   - Liveness Check: Simple endpoint to verify server is running (/livez)
//   - Readiness Check: Endpoint indicating if server is ready to accept requests (/readyz)
//   - Drain Control: Endpoints to prepare for graceful shutdown (/drain, /undrain)
//   - Metrics: Optional Prometheus-compatible metrics endpoint
//   - Profiling: Optional pprof debugging endpoints when enabled
//
// # Usage Example
//
//	runner, err := services.NewRunner(services.RunnerConfig{Store: store, Log: log})
//	if err != nil {
//	    return err
//	}
//	handler := services.NewHandler(runner, log)
//
//	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
//	    ListenAddr:  ":8080",
//	    MetricsAddr: ":8090",
//	    Log:         log,
//	}, handler)
//	if err != nil {
//	    return err
//	}
//
//	srv.RunInBackground()
//	defer srv.Shutdown()
//
// Collectors can be attached to the metrics registry before startup via
// srv.Registry(), which is how the run API exports simulation metrics from
// the same scrape endpoint.
package httpserver
