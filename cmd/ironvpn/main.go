package main

import "github.com/jmcleod/ironvpn/cmd/ironvpn/cmd"

func main() {
	cmd.Execute()
}
