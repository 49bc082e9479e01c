//go:build ignore

package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// tools are built in order into ./bin.
var tools = []string{"modbus-go-pwn", "modbus-go-server", "modbus-db-init"}

func main() {
	version := "0.3.0"
	if v := os.Getenv("MODBUS_TOOLS_VERSION"); v != "" {
		version = v
	}
	buildDate := time.Now().UTC().Format(time.RFC3339)

	// Only modbus-go-pwn carries a version package; the other tools ignore the flags.
	ldflags := fmt.Sprintf("-X 'modbus-tools/modbus-go-pwn/version.Version=%s' -X 'modbus-tools/modbus-go-pwn/version.BuildDate=%s'", version, buildDate)

	for _, tool := range tools {
		log.Printf("Building %s %s...", tool, version)
		cmd := exec.Command("go", "build", "-ldflags", ldflags, "-o", filepath.Join("bin", tool), "./"+tool)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Fatalf("Build of %s failed: %v", tool, err)
		}
	}

	log.Println("Build successful.")
}
