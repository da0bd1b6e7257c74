package main

import "github.com/deploymenttheory/go-ltfs/cmd"

func main() {
	cmd.Execute()
}
