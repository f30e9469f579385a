package cli

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"switchboard/pkg/plugin"
)

// versionRegex extracts the first X.Y.Z-looking token from --version output.
var versionRegex = regexp.MustCompile(`\d+\.\d+\.\d+`)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the agent CLIs are installed",
	Long: `Check every registered agent CLI: whether the binary is on PATH,
what version it reports, and whether that version satisfies the
minimum the agent adapter requires.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	registry, err := plugin.DefaultRegistry()
	if err != nil {
		return err
	}

	failures := 0
	for _, name := range registry.Names() {
		p, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		if err := checkAgent(cmd, p); err != nil {
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d agent(s) not ready", failures)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All agents ready")
	return nil
}

func checkAgent(cmd *cobra.Command, p plugin.AgentPlugin) error {
	out := cmd.OutOrStdout()

	path, err := exec.LookPath(p.Executable())
	if err != nil {
		fmt.Fprintf(out, "✗ %s: not installed (%s)\n", p.Name(), p.Executable())
		fmt.Fprintf(out, "  %s\n", p.InstallHint())
		return fmt.Errorf("%s not installed", p.Name())
	}

	installed, err := probeVersion(path)
	if err != nil {
		fmt.Fprintf(out, "? %s: %s (version probe failed: %v)\n", p.Name(), path, err)
		return nil
	}

	if err := checkMinVersion(installed, p.MinVersion()); err != nil {
		fmt.Fprintf(out, "✗ %s: %s version %s (%v)\n", p.Name(), path, installed, err)
		return err
	}

	fmt.Fprintf(out, "✓ %s: %s version %s\n", p.Name(), path, installed)
	return nil
}

// probeVersion runs the binary with --version and extracts a semver token.
func probeVersion(path string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}

	v := versionRegex.FindString(string(output))
	if v == "" {
		return "", fmt.Errorf("no version in output %q", strings.TrimSpace(string(output)))
	}
	return v, nil
}

func checkMinVersion(installed, constraint string) error {
	if constraint == "" {
		return nil
	}

	v, err := semver.NewVersion(installed)
	if err != nil {
		return fmt.Errorf("unparseable version: %w", err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("unparseable constraint %q: %w", constraint, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("does not satisfy %s", constraint)
	}
	return nil
}
