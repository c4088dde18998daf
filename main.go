package main

import "github.com/pixland/pixops/cmd"

func main() {
	cmd.Execute()
}
