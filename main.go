package main

import "github.com/orrn/makerspool/cmd"

func main() {
	cmd.Execute()
}
