// shake-guard watches the accelerometer and sends an emergency message with
// the current location to a configured contact when the phone is shaken.
package main

import "github.com/oshokin/shake-guard/cmd/shake-guard/cmd"

func main() {
	cmd.Execute()
}
