package main

import "github.com/ximass/lumnia/cmd"

func main() {
	cmd.Execute()
}
