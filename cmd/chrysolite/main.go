// chrysolite drives interactive command-line programs from a terminal or
// over HTTP and WebSocket.
package main

import (
	"os"

	"github.com/byronwjones/chrysolite/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
