// File: cmd/objstore/main.go
package main

import (
	// Explicitly import provider implementations to ensure their init() functions run and they register themselves
	_ "objstore/internal/provider"
)

func main() {
	Execute()
}
