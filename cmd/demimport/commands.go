package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jobrunner/demimport/internal/app"
	"github.com/jobrunner/demimport/internal/config"
	"github.com/jobrunner/demimport/internal/domain"
)

// importFlags are the options shared by all import commands.
type importFlags struct {
	aoi         string
	downloadDir string
	output      string
	keepData    bool
	nativeRes   bool
}

func (f *importFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.aoi, "aoi", "", "vector map or GeoJSON file restricting the import (default: current region)")
	fs.StringVar(&f.downloadDir, "download-dir", "", "directory for downloaded files (default: temporary directory)")
	fs.StringVar(&f.output, "output", "", "name of the output raster map")
	fs.BoolVarP(&f.keepData, "keep-data", "k", false, "keep downloaded data in the download directory")
	fs.BoolVarP(&f.nativeRes, "native-res", "r", false, "keep the native resolution of the data")
	_ = cobra.MarkFlagRequired(fs, "output")
}

func (f *importFlags) request() domain.ImportRequest {
	return domain.ImportRequest{
		AOI:         f.aoi,
		DownloadDir: f.downloadDir,
		Output:      f.output,
		KeepData:    f.keepData,
		NativeRes:   f.nativeRes,
	}
}

// stateFlags select the federal states of a multi-state import.
type stateFlags struct {
	states []string
	file   string
}

func (f *stateFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.states, "federal-state", nil, "federal states, codes or names (repeatable, comma separated)")
	fs.StringVar(&f.file, "federal-state-file", "", "file listing federal states, one per line or comma separated")
}

func (f *stateFlags) parse() ([]domain.FederalState, error) {
	states, err := domain.ParseStates(f.states...)
	if err != nil {
		return nil, err
	}
	if f.file != "" {
		file, err := os.Open(f.file)
		if err != nil {
			return nil, fmt.Errorf("reading federal state file: %w", err)
		}
		defer file.Close()
		fromFile, err := domain.ReadStates(file)
		if err != nil {
			return nil, fmt.Errorf("reading federal state file %s: %w", f.file, err)
		}
		for _, s := range fromFile {
			if !slices.Contains(states, s) {
				states = append(states, s)
			}
		}
	}
	if len(states) == 0 {
		return nil, domain.ErrNoStates
	}
	return states, nil
}

func newDispatchCmd(name, short string) *cobra.Command {
	var (
		flags    importFlags
		states   stateFlags
		localDir string
	)
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			product, err := domain.ParseProduct(name)
			if err != nil {
				return err
			}
			fss, err := states.parse()
			if err != nil {
				return err
			}
			return runImport(func(ctx context.Context, a *app.App) (domain.ImportResult, error) {
				return a.Import(ctx, app.Request{
					Product:       product,
					ImportRequest: flags.request(),
					States:        fss,
					LocalDataDir:  localDir,
				})
			}, flags.request())
		},
	}
	flags.register(cmd.Flags())
	states.register(cmd.Flags())
	cmd.Flags().StringVar(&localDir, "local-data-dir", "", "directory with one subdirectory of local data per federal state")
	return cmd
}

func newComposeCmd() *cobra.Command {
	var (
		flags     importFlags
		states    stateFlags
		localNDSM string
		localDSM  string
		localDTM  string
	)
	cmd := &cobra.Command{
		Use:   "ndsm",
		Short: "Import or compute nDSM data of several federal states",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fss, err := states.parse()
			if err != nil {
				return err
			}
			return runImport(func(ctx context.Context, a *app.App) (domain.ImportResult, error) {
				return a.Import(ctx, app.Request{
					Product:       domain.NDSM,
					ImportRequest: flags.request(),
					States:        fss,
					LocalNDSM:     localNDSM,
					LocalDSM:      localDSM,
					LocalDTM:      localDTM,
				})
			}, flags.request())
		},
	}
	flags.register(cmd.Flags())
	states.register(cmd.Flags())
	cmd.Flags().StringVar(&localNDSM, "local-data-dir-ndsm", "", "directory with local nDSM data per federal state")
	cmd.Flags().StringVar(&localDSM, "local-data-dir-dsm", "", "directory with local DSM data per federal state")
	cmd.Flags().StringVar(&localDTM, "local-data-dir-dtm", "", "directory with local DTM data per federal state")
	return cmd
}

func newImportCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "import <product> <state>",
		Short: "Import the open data of one product and federal state",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			product, err := domain.ParseProduct(args[0])
			if err != nil {
				return err
			}
			state, err := domain.ParseState(args[1])
			if err != nil {
				return err
			}
			return runImport(func(ctx context.Context, a *app.App) (domain.ImportResult, error) {
				return a.ImportState(ctx, product, state, flags.request())
			}, flags.request())
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newSupportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support [product]",
		Short: "Print open data availability and the registered importers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			products := domain.Products
			if len(args) == 1 {
				p, err := domain.ParseProduct(args[0])
				if err != nil {
					return err
				}
				products = []domain.Product{p}
			}

			a, _, err := setup()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRODUCT\tAVAILABILITY\tSTATES")
			for _, p := range products {
				for _, av := range []domain.Availability{domain.Supported, domain.NotYetSupported, domain.NoOpenData} {
					fmt.Fprintf(w, "%s\t%s\t%s\n", p, av, joinStates(a.Matrix.States(p, av)))
				}
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "PRODUCT\tSTATE\tMETHOD")
			for _, info := range a.Registry.List() {
				if slices.Contains(products, info.Product) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", info.Product, info.State, info.Method)
				}
			}
			return w.Flush()
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the GRASS session and the importer setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			details := a.Preflight.GetPreflightDetails(ctx)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "location\t%s\n", details.Location)
			fmt.Fprintf(w, "importers loaded\t%d\n", details.ImportersLoaded)
			for _, name := range []string{"grass", "projection", "support_matrix", "importers"} {
				fmt.Fprintf(w, "%s\t%s\n", name, details.Components[name])
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !details.Ready {
				return fmt.Errorf("not ready: %w", domain.ErrSessionNotReady)
			}
			return nil
		},
	}
}

// setup loads the configuration and wires the application.
func setup() (*app.App, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, logger, nil
}

type importFunc func(ctx context.Context, a *app.App) (domain.ImportResult, error)

// runImport runs an import until it ends or SIGINT/SIGTERM cancels it.
func runImport(run importFunc, req domain.ImportRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	a, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Debug("starting import", "version", version, "output", req.Output)
	started := time.Now()

	result, err := run(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("import interrupted: %w", err)
		}
		return err
	}

	logger.Debug("import finished", "output", result.Output, "duration", time.Since(started).Round(time.Second))
	return nil
}

func joinStates(states []domain.FederalState) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
