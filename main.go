package main

import "leadcall/cmd"

func main() {
	cmd.Run()
}
