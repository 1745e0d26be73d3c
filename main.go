package main

import "github.com/sergev/readchan/cmd"

func main() {
	cmd.Execute()
}
