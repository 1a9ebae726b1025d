// The main package for the wahapedia-crawler executable.
package main

import (
	"github.com/warmeta/wahapedia-crawler/cmd"
)

func main() {
	cmd.Execute()
}
