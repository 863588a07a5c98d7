package main

import "github.com/trobanga/sisyphus/cmd"

func main() {
	cmd.Execute()
}
