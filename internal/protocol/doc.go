// Package protocol defines the messages exchanged between the kilnd CLI and
// daemon.
//
// Every message is an [Envelope] encoded as a single line of JSON. A client
// connects to the daemon socket, writes one request envelope, and reads
// response envelopes until it receives [CmdOK] or [CmdError]. Commands that
// run a container may first send any number of [CmdOutput] envelopes carrying
// the container's output. The connection is closed after the final response.
package protocol
