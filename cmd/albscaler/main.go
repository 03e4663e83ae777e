package main

import (
	"os"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
