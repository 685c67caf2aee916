package main

import (
	"os"

	"github.com/nuetzliches/beanbridge/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
