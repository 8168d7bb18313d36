package main

import (
	"log"
	"os"

	"quiz-attempt-engine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
