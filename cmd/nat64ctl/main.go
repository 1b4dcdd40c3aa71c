// nat64ctl is the administrative CLI client for nat64d: it sends control
// frames over UDP to manage pool4 ranges, list live sessions, and
// exercise the joold replication protocol.
package main

import "github.com/n64lab/nat64d/cmd/nat64ctl/commands"

func main() {
	commands.Execute()
}
