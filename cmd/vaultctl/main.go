package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heirkeep/vault/internal/server"
	"github.com/heirkeep/vault/internal/vault/config"
	"github.com/heirkeep/vault/internal/vault/models"
	"github.com/heirkeep/vault/internal/vault/service"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultctl",
		Short: "Vault engine admin CLI",
		Long: `vaultctl operates directly on the vault encryption engine: encrypting and
decrypting vault files, managing access grants, and inspecting metadata.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "JSON config file")
	cmd.AddCommand(
		newEncryptCmd(),
		newDecryptCmd(),
		newMetadataCmd(),
		newListCmd(),
		newGrantCmd(),
		newAccessCmd(),
		newActivateCmd(),
		newRevokeCmd(),
		newDeleteCmd(),
	)
	return cmd
}

// withApp builds the full engine for one command invocation and tears it
// down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, app *server.App) error) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newEncryptCmd() *cobra.Command {
	var owner, template, mode, formFile, sourceFile, sourceName, sourceMime string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt form data and an optional source file into a new vault file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				formRaw, err := os.ReadFile(formFile)
				if err != nil {
					return err
				}
				var formData map[string]any
				if err := json.Unmarshal(formRaw, &formData); err != nil {
					return fmt.Errorf("form data file: %w", err)
				}

				req := &service.EncryptRequest{
					FormData:     formData,
					OwnerID:      owner,
					TemplateID:   template,
					CreationMode: models.CreationMode(mode),
				}
				if sourceFile != "" {
					data, err := os.ReadFile(sourceFile)
					if err != nil {
						return err
					}
					req.SourceFile = data
					req.SourceFileName = sourceName
					if req.SourceFileName == "" {
						req.SourceFileName = sourceFile
					}
					req.SourceFileMimeType = sourceMime
				}

				res, err := app.Vault().EncryptVaultFile(ctx, req)
				if err != nil {
					return err
				}
				record := res.VaultFile(owner, template, req.CreationMode)
				if err := app.Store().Create(ctx, record); err != nil {
					return err
				}
				fmt.Println(res.FileID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user ID")
	cmd.Flags().StringVar(&template, "template", "", "template ID")
	cmd.Flags().StringVar(&mode, "mode", string(models.CreationModeManual), "creation mode (manual or import)")
	cmd.Flags().StringVar(&formFile, "form", "", "path to JSON form data")
	cmd.Flags().StringVar(&sourceFile, "source", "", "path to source file to attach")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "original source file name")
	cmd.Flags().StringVar(&sourceMime, "source-mime", "application/octet-stream", "source file MIME type")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("form")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var user, sourceOut string
	cmd := &cobra.Command{
		Use:   "decrypt <file-id>",
		Short: "Decrypt a vault file's form data and optionally its source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				res, err := app.Vault().DecryptVaultFile(ctx, args[0], user, sourceOut != "")
				if err != nil {
					return err
				}
				if sourceOut != "" && res.HasSourceFile {
					if err := os.WriteFile(sourceOut, res.SourceFileData, 0o600); err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", sourceOut, len(res.SourceFileData))
				}
				return printJSON(res.FormData)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "requesting user ID")
	cmd.Flags().StringVar(&sourceOut, "source-out", "", "write the decrypted source file to this path")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newMetadataCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "metadata <file-id>",
		Short: "Fetch decryption metadata with a presigned source-file URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				md, err := app.Vault().GetDecryptionMetadata(ctx, args[0], user)
				if err != nil {
					return err
				}
				return printJSON(md)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "requesting user ID")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newListCmd() *cobra.Command {
	var owner, template, status, sharedWith string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's vault files or files shared with them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				if sharedWith != "" {
					files, err := app.Vault().ListSharedFiles(ctx, sharedWith)
					if err != nil {
						return err
					}
					return printJSON(files)
				}
				if owner == "" {
					return fmt.Errorf("one of --owner or --shared-with is required")
				}
				files, err := app.Vault().ListFiles(ctx, owner, template, models.FileStatus(status))
				if err != nil {
					return err
				}
				return printJSON(files)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user ID")
	cmd.Flags().StringVar(&template, "template", "", "filter by template ID")
	cmd.Flags().StringVar(&status, "status", string(models.FileStatusActive), "file status filter")
	cmd.Flags().StringVar(&sharedWith, "shared-with", "", "list files shared with this user instead")
	return cmd
}

func newGrantCmd() *cobra.Command {
	var recipient, grantedBy string
	var active bool
	cmd := &cobra.Command{
		Use:   "grant <file-id>",
		Short: "Grant a recipient access to a vault file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				status := models.AccessStatusPending
				if active {
					status = models.AccessStatusActive
				}
				grant, err := app.Vault().GrantAccess(ctx, args[0], recipient, grantedBy, status)
				if err != nil {
					return err
				}
				return printJSON(grant)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient user ID")
	cmd.Flags().StringVar(&grantedBy, "granted-by", "", "granting user ID")
	cmd.Flags().BoolVar(&active, "active", false, "activate the grant immediately")
	cmd.MarkFlagRequired("recipient")
	cmd.MarkFlagRequired("granted-by")
	return cmd
}

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access <file-id>",
		Short: "List all access grants for a vault file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				grants, err := app.Vault().AccessList(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(grants)
			})
		},
	}
	return cmd
}

func newActivateCmd() *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "activate <file-id>",
		Short: "Activate a pending access grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				return app.Vault().ActivateAccess(ctx, args[0], recipient)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient user ID")
	cmd.MarkFlagRequired("recipient")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "revoke <file-id>",
		Short: "Revoke an access grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				return app.Vault().RevokeAccess(ctx, args[0], recipient)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient user ID")
	cmd.MarkFlagRequired("recipient")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var user string
	var hard bool
	cmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a vault file (soft by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				return app.Vault().DeleteVaultFile(ctx, args[0], user, !hard)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "requesting user ID (must be the owner)")
	cmd.Flags().BoolVar(&hard, "hard", false, "remove the metadata row and ciphertext blob")
	cmd.MarkFlagRequired("user")
	return cmd
}
