package main

import (
	"log"

	"gate-admission/cmd"
	_ "gate-admission/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
