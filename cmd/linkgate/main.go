// Package main is the linkgate entrypoint.
//
// linkgate serve runs the HTTP service: the gatekeeper middleware in front of
// every route, the visit beacon that classifies the browser and returns an
// escape plan, and the analytics API whose writes fan out to the configured
// sinks (memory, Postgres, Pub/Sub). linkgate probe checks a deployment from
// the outside with plain HTTP cases and, optionally, a headless Chrome.
//
// Configuration comes from linkgate.yaml and LINKGATE_* environment variables;
// PORT overrides server.port for Cloud Run.
package main

import "github.com/JakeFAU/linkgate/cmd"

func main() {
	cmd.Execute()
}
