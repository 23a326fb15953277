package main

import "github.com/khanhnv2901/lineaudit/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
