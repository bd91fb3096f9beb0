// The main package for the uptime executable.
package main

import (
	"github.com/JakeFAU/realtime-uptime/cmd"
)

func main() {
	cmd.Execute()
}
