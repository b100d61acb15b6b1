package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shore-hpc/shore/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage shore configuration",
		Long: `Configuration management commands for shore.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for shore.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := runConfigWizard(newPrompter(cmd.InOrStdin(), out))
			if err != nil {
				return err
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// runConfigWizard asks for every setting, starting from the defaults, and
// returns a validated configuration.
func runConfigWizard(p *prompter) (*config.Config, error) {
	cfg := config.NewConfig()

	fmt.Fprintln(p.out, "shore Configuration Setup")
	fmt.Fprintln(p.out, "=========================")
	fmt.Fprintln(p.out)

	cfg.Workspace.Root = p.String("Workspace root", cfg.Workspace.Root)

	fmt.Fprintln(p.out)
	cfg.Remote.Enabled = p.Bool("Run on a remote cluster over SSH?", true)
	if cfg.Remote.Enabled {
		cfg.Remote.Host = p.String("Host", "")
		cfg.Remote.Port = p.Int("Port", cfg.Remote.Port)
		cfg.Remote.User = p.String("User", os.Getenv("USER"))
		cfg.Remote.KeyFile = p.String("Private key file", "")
		cfg.Remote.KnownHosts = p.String("known_hosts file", "")
		if cfg.Remote.KnownHosts == "" {
			cfg.Remote.InsecureIgnoreHostKey = p.Bool("Skip host key verification?", false)
		}
		cfg.Remote.Root = p.String("Remote working root", "")
		cfg.Remote.Sbatch = p.Bool("Submit through sbatch?", cfg.Remote.Sbatch)
		if cfg.Remote.Sbatch {
			cfg.Remote.Partition = p.String("Partition", cfg.Remote.Partition)
			cfg.Remote.Walltime = p.String("Walltime", cfg.Remote.Walltime)
		}
	}
	cfg.Remote.Cores = p.Int("Cores", cfg.Remote.Cores)
	cfg.Remote.Activate = p.String("Environment activation script", cfg.Remote.Activate)
	cfg.Remote.Engine = p.String("OCEAN engine command", cfg.Remote.Engine)

	fmt.Fprintln(p.out)
	cfg.Archive.Provider = p.String("Results archive (none, s3, azure)", cfg.Archive.Provider)
	if cfg.Archive.Provider != "none" {
		cfg.Archive.Bucket = p.String("Bucket / container", "")
		cfg.Archive.Prefix = p.String("Key prefix", "")
		switch cfg.Archive.Provider {
		case "s3":
			cfg.Archive.Region = p.String("Region", "us-east-1")
		case "azure":
			cfg.Archive.AccountURL = p.String("Account URL", "")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration, with --root applied.
Priority: flags > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if rootDir != "" {
				cfg.Workspace.Root = rootDir
			}
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Workspace:")
	fmt.Fprintf(w, "  Root:     %s\n", cfg.Workspace.Root)
	if cfg.Workspace.LogFile != "" {
		fmt.Fprintf(w, "  Log file: %s\n", cfg.Workspace.LogFile)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Execution:")
	if cfg.Remote.Enabled {
		fmt.Fprintf(w, "  Host:      %s@%s:%d\n", cfg.Remote.User, cfg.Remote.Host, cfg.Remote.Port)
		fmt.Fprintf(w, "  Root:      %s\n", cfg.Remote.Root)
		if cfg.Remote.KeyFile != "" {
			fmt.Fprintln(w, "  Key file:  <set>")
		}
		fmt.Fprintf(w, "  Sbatch:    %t\n", cfg.Remote.Sbatch)
		if cfg.Remote.Partition != "" {
			fmt.Fprintf(w, "  Partition: %s\n", cfg.Remote.Partition)
		}
		fmt.Fprintf(w, "  Walltime:  %s\n", cfg.Remote.Walltime)
	} else {
		fmt.Fprintln(w, "  Mode:      local")
	}
	fmt.Fprintf(w, "  Cores:     %d\n", cfg.Remote.Cores)
	fmt.Fprintf(w, "  Engine:    %s\n", cfg.Remote.Engine)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Monitor:")
	fmt.Fprintf(w, "  Poll interval: %s\n", cfg.PollInterval())
	fmt.Fprintf(w, "  Startup delay: %s\n", cfg.StartupDelay())
	fmt.Fprintf(w, "  Mirror every:  %s\n", cfg.MirrorInterval())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Archive:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Archive.Provider)
	if cfg.Archive.Provider != "none" {
		fmt.Fprintf(w, "  Bucket:   %s\n", cfg.Archive.Bucket)
		fmt.Fprintf(w, "  Prefix:   %s\n", cfg.Archive.Prefix)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  %s\n", path)
			if fi, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Modified: %s\n", fi.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out, "Create a configuration file with: shore config init")
			}
			return nil
		},
	}
	return cmd
}
