// Package main provides the entry point for the confsync daemon. It runs
// a settings engine that stores typed definitions and scoped overrides,
// resolves reads through the user, location and system hierarchy, and
// replicates committed writes between nodes over a change feed. The engine
// uses gorm for persistence, records every mutation in an audit history,
// and queues writes made while the feed is unreachable for later replay.
package main
