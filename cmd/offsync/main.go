// offsync CLI entry point
//
// offsync is an offline-first data layer: it caches a remote collection in
// SQLite, queues writes made while the service is unreachable and replays them
// in order when connectivity returns.
package main

import "github.com/jbctechsolutions/offsync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
