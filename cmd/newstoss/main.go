package main

import (
	"os"

	"horse.fit/newstoss/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
