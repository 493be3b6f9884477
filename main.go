package main

import "github.com/mimicbrowser/mimic/cmd"

func main() {
	cmd.Execute()
}
