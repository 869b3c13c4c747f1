package main

import "github.com/campuskit/sentinel/cmd"

func main() {
	cmd.Execute()
}
