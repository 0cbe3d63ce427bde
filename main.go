package main

import "nebulaktv/cmd"

func main() {
	cmd.Execute()
}
