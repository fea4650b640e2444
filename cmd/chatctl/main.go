package main

import "github.com/nfrund/chatsession/cmd/chatctl/cmd"

func main() {
	cmd.Execute()
}
