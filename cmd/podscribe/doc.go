// Command podscribe is the command-line client for the podscribe daemon.
//
// Most commands talk to the daemon's HTTP API: submit and inspect tasks,
// read episodes and their summaries, ask questions against the transcript
// index, and trigger reprocessing or reindexing. The segment and config
// commands run locally without a daemon.
package main
