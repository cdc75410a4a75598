package main

import "github.com/spirius/gldeploy/cmd/gldeploy/cmd"

func main() {
	cmd.Execute()
}
