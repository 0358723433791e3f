// relayctl is a command line client for the relay API.
package main

func main() {
	Execute()
}
