// Command questctl runs progression and integrity operations against the
// configured store from the command line.
package main

import "github.com/habitquest/progression-engine/cmd/questctl/root"

func main() {
	root.Execute()
}
