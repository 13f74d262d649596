package main

import "github.com/flowstash/flowstash/cmd"

func main() {
	cmd.Execute()
}
