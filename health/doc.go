// Package health aggregates component health for the /health endpoint.
//
// Components register a Check with a Monitor; Report runs every check and
// folds the results into one Status using three states:
//
//   - healthy: operating normally
//   - degraded: working with reduced functionality (for example records
//     flowing without geo enrichment)
//   - unhealthy: not functioning (for example the bus connection is down)
//
// Usage:
//
//	monitor := health.NewMonitor("cmcdstreams")
//	monitor.Register("nats", func(ctx context.Context) health.Status {
//		if client.IsHealthy() {
//			return health.NewHealthy("nats", "")
//		}
//		return health.NewUnhealthy("nats", client.Status().String())
//	})
//
//	status := monitor.Report(ctx)
//
// Error text passed through FromError is sanitized so that URLs, file
// paths, addresses and credentials never reach the endpoint.
package health
