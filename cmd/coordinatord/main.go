// Command coordinatord runs the settlement coordinator daemon.
package main

import "github.com/settlecoord/coordinator/internal/cli"

func main() {
	cli.Execute()
}
