package main

import "github.com/Tiliavir/tempo-booker/cmd"

func main() {
	cmd.Execute()
}
