package main

import "github.com/samsaffron/chatcore/cmd"

func main() {
	cmd.Execute()
}
