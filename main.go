package main

import "github.com/audiolibrelab/jamloop/cmd"

func main() {
	cmd.Execute()
}
