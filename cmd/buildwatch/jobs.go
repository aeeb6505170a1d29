package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caevv/buildwatch/internal/config"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the job catalog in the configuration",
	Long: `Manage tracked CI jobs in the buildwatch configuration file.

Subcommands:
  add     - Add a job to the catalog
  list    - List the catalog
  remove  - Remove a job from the catalog

A running process keeps the catalog it loaded at startup. Stored builds of
a removed job are kept.

Examples:
  buildwatch jobs add api-image --path job/platform/job/api-image --kind container-image
  buildwatch jobs list --config buildwatch.yaml
  buildwatch jobs remove api-image --config buildwatch.yaml`,
}

var addJobCmd = &cobra.Command{
	Use:   "add [job-id]",
	Short: "Add a job to the catalog",
	Long: `Add a CI job to the buildwatch configuration file.

If --interactive flag is used, the command will prompt for all job details.
Otherwise, job-id and --path must be provided.

Examples:
  buildwatch jobs add billing --path job/billing --kind service --name "Billing service"
  buildwatch jobs add --interactive`,
	RunE: runAddJob,
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the job catalog",
	RunE:  runListJobs,
}

var removeJobCmd = &cobra.Command{
	Use:   "remove [job-id]",
	Short: "Remove a job from the catalog",
	RunE:  runRemoveJob,
	Args:  cobra.ExactArgs(1),
}

func init() {
	jobsCmd.AddCommand(addJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(removeJobCmd)

	addJobCmd.Flags().String("path", "", "Remote job path, e.g. job/platform/job/api-image (required unless --interactive)")
	addJobCmd.Flags().String("kind", config.KindContainerImage, "Job kind")
	addJobCmd.Flags().String("name", "", "Display name (defaults to the ID)")
	addJobCmd.Flags().BoolP("interactive", "i", false, "Interactive mode with prompts")
}

func runAddJob(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	interactive, _ := cmd.Flags().GetBool("interactive")
	out := cmd.OutOrStdout()

	var job config.Job
	if interactive {
		var err error
		job, err = promptForJob(cmd.InOrStdin(), out)
		if err != nil {
			return fmt.Errorf("failed to get job details: %w", err)
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("job ID is required (or use --interactive flag)")
		}
		path, _ := cmd.Flags().GetString("path")
		kind, _ := cmd.Flags().GetString("kind")
		name, _ := cmd.Flags().GetString("name")
		if path == "" {
			return fmt.Errorf("--path flag is required")
		}
		job = config.Job{ID: args[0], Name: name, Path: path, Kind: kind}
	}

	if err := checkKind(configPath, job.Kind); err != nil {
		return err
	}
	if err := config.AddJob(configPath, job); err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	fmt.Fprintf(out, "✓ Job '%s' added successfully to %s\n", job.ID, configPath)
	fmt.Fprintf(out, "  Path: %s\n", job.Path)
	fmt.Fprintf(out, "  Kind: %s\n", job.Kind)
	return nil
}

// checkKind rejects kinds the config does not declare.
func checkKind(configPath, kind string) error {
	kinds := config.DefaultKinds()
	if cfg, err := config.LoadConfig(configPath); err == nil && len(cfg.Kinds) > 0 {
		kinds = cfg.Kinds
	}
	if _, ok := kinds[kind]; !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	return nil
}

func runListJobs(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs configured")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tPATH")
	for _, job := range cfg.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", job.ID, truncate(job.Name, 30), job.Kind, job.Path)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal jobs: %d\n", len(cfg.Jobs))

	return nil
}

func runRemoveJob(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	jobID := args[0]

	if err := config.RemoveJob(configPath, jobID); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Job '%s' removed successfully from %s\n", jobID, configPath)
	return nil
}

func promptForJob(in io.Reader, out io.Writer) (config.Job, error) {
	reader := bufio.NewReader(in)
	var job config.Job

	ask := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	var err error
	if job.ID, err = ask("Job ID: "); err != nil {
		return job, err
	}
	if job.Path, err = ask("Remote path (e.g. job/platform/job/api-image): "); err != nil {
		return job, err
	}
	if job.Kind, err = ask(fmt.Sprintf("Kind (%s or %s, default %s): ",
		config.KindContainerImage, config.KindService, config.KindContainerImage)); err != nil {
		return job, err
	}
	if job.Kind == "" {
		job.Kind = config.KindContainerImage
	}
	if job.Name, err = ask("Display name (optional, press Enter to skip): "); err != nil {
		return job, err
	}

	if job.ID == "" || job.Path == "" {
		return job, fmt.Errorf("job ID and path are required")
	}

	fmt.Fprintln(out, "\n=== Job Preview ===")
	fmt.Fprintf(out, "ID:   %s\n", job.ID)
	fmt.Fprintf(out, "Path: %s\n", job.Path)
	fmt.Fprintf(out, "Kind: %s\n", job.Kind)
	if job.Name != "" {
		fmt.Fprintf(out, "Name: %s\n", job.Name)
	}

	confirm, _ := ask("\nAdd this job? (Y/n): ")
	confirm = strings.ToLower(confirm)
	if confirm != "" && confirm != "y" && confirm != "yes" {
		return job, fmt.Errorf("job creation cancelled")
	}

	return job, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
