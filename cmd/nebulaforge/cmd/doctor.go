package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebulaforge/nebulaforge/internal/diagnostics"
	"github.com/nebulaforge/nebulaforge/internal/provider"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and provider credentials",
	Long:  "Verify configuration, provider credentials and local resources before running generations.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	fmt.Println("Checking configuration...")
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  ✗ %v\n", err)
		fmt.Println()
		fmt.Println("Fix .nebulaforge.yaml before running generations.")
		return fmt.Errorf("configuration check failed")
	}
	fmt.Println("  ✓ configuration valid")
	fmt.Println()

	fmt.Println("Checking providers...")
	fmt.Println()

	creds := cfg.Credentials()
	providers := []struct {
		name string
		kind provider.Kind
	}{
		{"groq", provider.KindGroq},
		{"openrouter", provider.KindOpenRouter},
		{"gemini", provider.KindGemini},
		{"ollama", provider.KindOllama},
	}

	reachable := 0
	for _, p := range providers {
		if creds.Available(p.kind) {
			reachable++
			suffix := ""
			if p.kind == provider.KindOllama {
				suffix = " (local)"
			}
			fmt.Printf("  ✓ %s%s\n", p.name, suffix)
		} else {
			fmt.Printf("  ○ %s (no API key)\n", p.name)
		}
	}
	fmt.Println()

	fmt.Println("Checking storage...")
	fmt.Println()
	for _, dir := range []string{filepath.Dir(cfg.State.Path), cfg.Artifacts.Dir} {
		if err := checkWritable(dir); err != nil {
			fmt.Printf("  ✗ %s: %v\n", dir, err)
		} else {
			fmt.Printf("  ✓ %s writable\n", dir)
		}
	}
	fmt.Println()

	fmt.Println("Host resources...")
	fmt.Println()
	r := diagnostics.Collect(time.Second)
	fmt.Printf("  %s (%s/%s), %s\n", r.Hostname, r.OS, r.Arch, r.Platform)
	fmt.Printf("  cpu:  %s, %d cores / %d threads, %.0f%% busy\n", r.CPUModel, r.CPUCores, r.CPUThreads, r.CPUPercent)
	fmt.Printf("  mem:  %.0f/%.0f MB (%.0f%%)\n", r.MemUsedMB, r.MemTotalMB, r.MemPercent)
	fmt.Printf("  disk: %.1f/%.1f GB (%.0f%%)\n", r.DiskUsedGB, r.DiskTotalGB, r.DiskPercent)
	fmt.Println()

	if reachable == 0 {
		fmt.Println("No providers reachable. Export at least one API key (GROQ_API_KEY,")
		fmt.Println("OPENROUTER_API_KEY, GOOGLE_API_KEY) or run a local Ollama.")
		return fmt.Errorf("no providers available")
	}

	fmt.Printf("%d of %d providers available\n", reachable, len(providers))
	return nil
}

// checkWritable verifies the directory exists (creating it if needed)
// and accepts writes.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
