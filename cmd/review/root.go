// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ObiyaDev/obiya-examples-sub000/pkg/ux"
	"github.com/ObiyaDev/obiya-examples-sub000/services/review/config"
)

// cliState is shared by every subcommand of one root command.
type cliState struct {
	configPath string
	outputMode string
	cfg        config.Config
	printer    *ux.Printer
}

func newRootCmd() *cobra.Command {
	st := &cliState{}
	root := &cobra.Command{
		Use:   "review",
		Short: "Refine code review reasoning with Monte Carlo tree search",
		Long: `review collects a git change set, asks a language model oracle for an
initial assessment, and searches a tree of reasoning steps for the most
convincing review. Reports are written as markdown to a local path or a
gs:// bucket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := ux.DetectLevel(os.Stdout)
			if st.outputMode != "" {
				level = ux.ParseLevel(st.outputMode)
			}
			st.printer = ux.NewPrinter(cmd.OutOrStdout(), level)

			cfg, err := config.Load(st.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", "review.yaml", "configuration file (YAML or JSON); a missing file uses defaults")
	root.PersistentFlags().StringVar(&st.outputMode, "output", "", "output style: full, minimal or machine (default: detect)")

	root.AddCommand(
		newRunCmd(st),
		newResumeCmd(st),
		newServeCmd(st),
		newCheckpointsCmd(st),
		newConfigCmd(st),
	)
	return root
}

func newConfigCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := st.cfg
			if cfg.Checkpoint.Redis.Password != "" {
				cfg.Checkpoint.Redis.Password = "********"
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
