package main

import "github.com/rdurfee/certreq/cmd/certreq/cmd"

func main() {
	cmd.Execute()
}
