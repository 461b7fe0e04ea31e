package main

import "github.com/emrgen/docsync/cmd"

func main() {
	cmd.Execute()
}
