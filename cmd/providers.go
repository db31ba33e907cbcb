package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/registry"
)

var providersFile string

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage the provider registry",
}

var providersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load the registry file into the providers table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx := cmd.Context()

		path := providersFile
		if path == "" {
			path = cfg.Providers.File
		}
		ps, err := registry.LoadFile(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		n, err := st.UpsertProviders(ctx, ps)
		if err != nil {
			return eris.Wrap(err, "upsert providers")
		}
		zap.L().Info("providers synced", zap.String("file", path), zap.Int64("rows", n))
		return nil
	},
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("list"); err != nil {
			return err
		}
		ctx := cmd.Context()

		var src registry.Source = registry.FileSource{Path: cfg.Providers.File}
		if cfg.Providers.Source == "store" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			src = registry.StoreSource{Store: st}
		}

		ps, err := registry.New(src).All(ctx)
		if err != nil {
			return err
		}
		printProviders(ps)
		return nil
	},
}

func printProviders(ps []model.Provider) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACTIVE\tIMAGES\tLIMITS\tCOST/IMAGE")
	for _, p := range ps {
		fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%.4f\n",
			p.Name, p.IsActive, p.Can(model.CapabilityImages),
			formatLimits(p.Metadata.RateLimits), p.Metadata.CostPerImage)
	}
	_ = w.Flush()
}

func formatLimits(rl model.RateLimits) string {
	if rl.Empty() {
		return "-"
	}
	var parts []string
	for _, l := range []struct {
		unit string
		v    *int
	}{{"s", rl.PerSecond}, {"m", rl.PerMinute}, {"h", rl.PerHour}} {
		if l.v != nil {
			parts = append(parts, fmt.Sprintf("%d/%s", *l.v, l.unit))
		}
	}
	return strings.Join(parts, " ")
}

func init() {
	providersSyncCmd.Flags().StringVar(&providersFile, "file", "", "registry file (default from config)")
	providersCmd.AddCommand(providersSyncCmd, providersListCmd)
	rootCmd.AddCommand(providersCmd)
}
