package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vtcode/vtcode/internal/config"
	"github.com/vtcode/vtcode/internal/doctor"
)

// buildDoctorCmd validates configuration, optionally applies migrations and
// workspace repairs, and reports security/service findings. Mirrors the
// teacher's flag-setup/handler-logic pairing: flags live here, logic in
// runDoctor.
func buildDoctorCmd(configPath *string) *cobra.Command {
	var repair bool
	var audit bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and repair common workspace issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, *configPath, repair, audit)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Apply migrations and workspace repairs")
	cmd.Flags().BoolVar(&audit, "audit", false, "Audit security posture and local service conflicts")

	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, repair, audit bool) error {
	out := cmd.OutOrStdout()

	raw, err := doctor.LoadRawConfig(configPath)
	if err != nil {
		return wrapConfigError(fmt.Errorf("read config: %w", err))
	}
	migrations, err := doctor.ApplyConfigMigrations(raw)
	if err != nil {
		return wrapConfigError(fmt.Errorf("apply migrations: %w", err))
	}
	if len(migrations.Applied) > 0 {
		if repair {
			backupPath, err := doctor.BackupConfig(configPath)
			if err != nil {
				return fmt.Errorf("backup config before migration: %w", err)
			}
			if err := doctor.WriteRawConfig(configPath, raw); err != nil {
				return fmt.Errorf("write migrated config: %w", err)
			}
			fmt.Fprintln(out, "Applied config migrations:")
			for _, note := range migrations.Applied {
				fmt.Fprintf(out, "  - %s\n", note)
			}
			fmt.Fprintf(out, "Backup created: %s\n", backupPath)
		} else {
			fmt.Fprintln(out, "Config migrations available (run `vtcode doctor --repair` to apply):")
			for _, note := range migrations.Applied {
				fmt.Fprintf(out, "  - %s\n", note)
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if len(migrations.Applied) > 0 && !repair {
			return wrapConfigError(fmt.Errorf("config validation failed (migrations available, run `vtcode doctor --repair`): %w", err))
		}
		return wrapConfigError(fmt.Errorf("config validation failed: %w", err))
	}
	fmt.Fprintln(out, "Configuration is valid.")

	if repair {
		result, err := doctor.RepairWorkspace(cfg)
		if err != nil {
			return fmt.Errorf("repair workspace: %w", err)
		}
		if len(result.Created) > 0 {
			fmt.Fprintln(out, "Workspace files created:")
			for _, path := range result.Created {
				fmt.Fprintf(out, "  - %s\n", path)
			}
		}
	}

	if audit {
		security := doctor.AuditSecurity(cfg, configPath)
		if len(security.Findings) > 0 {
			fmt.Fprintln(out, "Security findings:")
			for _, finding := range security.Findings {
				fmt.Fprintf(out, "  [%s] %s\n", finding.Severity, finding.Message)
			}
		} else {
			fmt.Fprintln(out, "No security findings.")
		}

		services := doctor.AuditServices(cfg)
		for _, port := range services.Ports {
			state := "available"
			if port.InUse {
				state = "in use"
			}
			if port.Error != "" {
				state = port.Error
			}
			fmt.Fprintf(out, "  port %d: %s\n", port.Port, state)
		}
	}

	return nil
}
