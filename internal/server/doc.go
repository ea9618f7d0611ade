/*
Package server hosts the relay's HTTP listener and its middleware chain.

# Middleware Chain Order

 1. RequestIDMiddleware (generates the X-Request-ID used by every log record)
 2. LoggingMiddleware (request started / request completed records)
 3. CORSMiddleware (cross-origin headers, answers OPTIONS on any path)
 4. TimeoutMiddleware (context deadline, only when a timeout is configured)
 5. Recoverer (turns handler panics into a 500)
 6. OTel instrumentation (otelhttp server spans)

CORS runs ahead of the recoverer so that even a 500 from a panic carries the
cross-origin headers the browser needs to read it.

# Context Keys

  - RequestIDKey: string UUID for the request
  - logFieldsKey: request-scoped fields filled by AddLogField/AddError

# Example Usage

	srv := server.New(cfg.Server, logger)
	srv.Router.Post("/trigger-workflow", handler.HandleTriggerWorkflow)
	srv.Start()
*/
package server
