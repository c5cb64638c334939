package main

import "github.com/tablestakes/game-session/internal/cli"

func main() {
	cli.Execute()
}
