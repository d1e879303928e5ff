package main

import "github.com/audiolibrelab/jamdeck/cmd"

func main() {
	cmd.Execute()
}
