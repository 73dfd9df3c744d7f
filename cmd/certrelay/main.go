package main

import "github.com/jmcleod/certrelay/cmd/certrelay/cmd"

func main() {
	cmd.Execute()
}
