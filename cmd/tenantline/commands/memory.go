package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

// newMemoryCmd creates the `tenantline memory` command group for inspecting
// the workspace from the terminal.
func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit the assistant's workspace files",
	}

	cmd.AddCommand(
		newMemoryListCmd(),
		newMemoryReadCmd(),
		newMemoryWriteCmd(),
		newMemoryDeleteCmd(),
	)
	return cmd
}

// openStore builds a memstore rooted at the configured workspace.
func openStore(cmd *cobra.Command) (*memstore.Store, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	return memstore.New(cfg.Memory.Workspace, buildLogger(cmd, cfg))
}

func newMemoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [path]",
		Short: "List workspace entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			rel := ""
			if len(args) > 0 {
				rel = args[0]
			}
			entries, err := store.List(rel)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.IsDir {
					fmt.Printf("%s/\n", e.Name)
				} else {
					fmt.Printf("%s  (%d bytes)\n", e.Name, e.Size)
				}
			}
			return nil
		},
	}
}

func newMemoryReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <path>",
		Short: "Print a workspace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			result, err := store.Read(args[0])
			if err != nil {
				return err
			}
			fmt.Print(result.Content)
			if result.Truncated {
				fmt.Fprintf(os.Stderr, "\n[truncated: file is %d bytes]\n", result.TotalSize)
			}
			return nil
		},
	}
}

func newMemoryWriteCmd() *cobra.Command {
	var appendFlag bool
	cmd := &cobra.Command{
		Use:   "write <path> <content>",
		Short: "Write or append to a workspace file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			if appendFlag {
				return store.Append(args[0], args[1])
			}
			return store.Write(args[0], args[1])
		},
	}
	cmd.Flags().BoolVarP(&appendFlag, "append", "a", false, "append instead of overwrite")
	return cmd
}

func newMemoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a workspace file or empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			return store.Delete(args[0])
		},
	}
}
