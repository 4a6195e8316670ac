package main

import (
	"strings"
)

func makeExample(examples ...string) string {
	var lines []string
	for _, ex := range examples {
		lines = append(lines, "  "+ex)
	}
	return strings.Join(lines, "\n")
}
