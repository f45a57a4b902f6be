package banner

import (
	"fmt"

	"chatevents/pkg/config"
)

const banner = `
  ___ _         _   ___             _
 / __| |_  __ _| |_| __|_ _____ _ _| |_ ___
| (__| ' \/ _` + "`" + ` |  _| _|\ V / -_) ' \  _(_-<
 \___|_||_\__,_|\__|___|\_/\___|_||_\__/__/
`

// Print writes the startup banner and the effective config source.
func Print(cfg *config.Config, src config.Source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("Storage:  %s (%s)\n", cfg.Storage.Path, cfg.Storage.Engine)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Production? =================================================")
	if cfg.Storage.Engine == "memory" {
		fmt.Println("- Storage: IN-MEMORY (events are lost on restart)")
	} else {
		fmt.Println("- Storage: OK")
	}
	if cfg.Storage.Fsync == "never" {
		fmt.Println("- Fsync: DISABLED (recent batches may be lost on crash)")
	} else {
		fmt.Printf("- Fsync: %s\n", cfg.Storage.Fsync)
	}
	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: ON (keep %s, cron %q)\n", cfg.Retention.Period, cfg.Retention.Cron)
	} else {
		fmt.Println("- Retention: OFF")
	}
	fmt.Println()
}
