package main

import "github.com/cannsudemir/ats/cmd"

func main() {
	cmd.Execute()
}
