// shake-ctl controls a running shake-guard daemon.
package main

import "github.com/oshokin/shake-guard/cmd/shake-ctl/cmd"

func main() {
	cmd.Execute()
}
