package main

import "github.com/nextlevelbuilder/allow2/cmd"

func main() {
	cmd.Execute()
}
