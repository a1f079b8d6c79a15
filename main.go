package main

import "github.com/stephnangue/belfry/cmd"

func main() {
	cmd.Execute()
}
