package main

import (
	"log"

	"carmover/cmd/carmover/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
