// Package app wires the intake service together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from the environment and an optional YAML file
//	2. Initialize the JSON logger and OpenTelemetry providers
//	3. Open the file cache for the configured backend
//	4. Build the progress hub, the pipeline and the health service
//	5. Mount the HTTP routes behind the middleware chain
//	6. Create the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns after SIGINT or SIGTERM once in-flight requests have drained,
// the hub has closed its clients, the cache is closed and telemetry has
// been flushed. The package never calls os.Exit.
package app
