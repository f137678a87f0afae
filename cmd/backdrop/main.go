package main

import "github.com/MeKo-Tech/backdrop/cmd/backdrop/cmd"

func main() {
	cmd.Execute()
}
