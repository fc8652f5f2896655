// Command podscribed runs the podscribe daemon: the task queue workers, the
// HTTP API and event stream used by the podscribe CLI, and the optional gRPC
// health service.
package main
