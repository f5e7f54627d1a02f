// Package bootstrap wires the containment engine together: logging, config,
// tracing, worker pools, the Redis mirror, detection components, storage
// backends, notification channels, and the HTTP API, in that order. Shutdown
// unwinds the same graph in reverse so in-flight work drains before backends
// close.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	app.WaitForShutdown()
package bootstrap
