package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ggrrecon/pkg/bids"
	"ggrrecon/pkg/preprocess"
	"ggrrecon/pkg/registration"
)

func newPreprocessCommand(app *appContext) *cobra.Command {
	var (
		filenames    []string
		size         []int
		resampleOnly bool
		dataPath     string
		tempPath     string
		workingPath  string
		outPath      string
		rawFilters   []string
	)

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Resolve one acquisition group and prepare it for reconstruction",
		Long: "Resolves a sagittal/coronal/axial acquisition group, either from an explicit\n" +
			"file list or by BIDS discovery, then reorients, resamples, registers and\n" +
			"fuses the volumes into the working directory.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ensureConfig()
			if err != nil {
				return err
			}
			// Space-separated file lists after -f arrive as positionals.
			if len(filenames) > 0 {
				filenames = append(filenames, args...)
			} else if len(args) > 0 {
				return fmt.Errorf("unexpected arguments %v (use -f for explicit filenames)", args)
			}
			if dataPath == "" {
				dataPath = cfg.Paths.Data
			}
			if workingPath != "" {
				tempPath = workingPath
			}
			if tempPath == "" {
				tempPath = cfg.Paths.Temp
			}
			if outPath == "" {
				outPath = cfg.Paths.Out
			}

			// Argument problems must surface before anything touches disk.
			if err := preprocess.ValidateSize(size); err != nil {
				return err
			}
			filters, err := bids.ParseFilters(rawFilters)
			if err != nil {
				return err
			}

			var flist []string
			var manifest *bids.Manifest
			if len(filenames) > 0 {
				flist, manifest, err = bids.SelectFromFilenames(filenames)
			} else {
				var layout *bids.Layout
				layout, err = bids.NewLayout(dataPath)
				if err == nil {
					flist, manifest, err = bids.DiscoverInputs(layout, dataPath, filters)
				}
			}
			if err != nil {
				return err
			}

			if err := os.MkdirAll(tempPath, 0o755); err != nil {
				return fmt.Errorf("create working directory: %w", err)
			}
			manifestPath := filepath.Join(tempPath, bids.ManifestFileName)
			if manifest != nil {
				if err := manifest.Save(manifestPath); err != nil {
					return err
				}
			} else if err := bids.RemoveManifest(manifestPath); err != nil {
				return err
			}

			p, err := preprocess.New(preprocess.Params{
				Filenames:    flist,
				Size:         size,
				ResampleOnly: resampleOnly,
				WorkingDir:   tempPath,
				OutDir:       outPath,
				Workers:      cfg.Processing.NumCores,
				Registrar:    registration.NewCLI(registration.WithBinary(cfg.Tools.Registration)),
			})
			if err != nil {
				return err
			}
			result, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}

			printSummary(cmd, result, manifest, flist)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&filenames, "filenames", "f", nil, "Explicit input volumes, reference first")
	cmd.Flags().IntSliceVarP(&size, "size", "s", nil, "Target lattice size as three positive integers")
	cmd.Flags().BoolVarP(&resampleOnly, "resample", "r", false, "Only resample the reference volume and exit")
	cmd.Flags().StringVarP(&dataPath, "path", "p", "", "BIDS dataset search path")
	cmd.Flags().StringVarP(&tempPath, "temp_path", "t", "", "Working directory for intermediate artifacts")
	cmd.Flags().StringVarP(&workingPath, "working_path", "w", "", "Alias for --temp_path")
	cmd.Flags().StringVarP(&outPath, "out_path", "o", "", "Output directory")
	cmd.Flags().StringArrayVar(&rawFilters, "bids-filter", nil, "Entity filter KEY=VALUE, repeatable")

	return cmd
}

func printSummary(cmd *cobra.Command, result *preprocess.Result, manifest *bids.Manifest, flist []string) {
	mode := "full"
	output := result.FusedVolume
	if result.ResampledReference != "" {
		mode = "resample-only"
		output = result.ResampledReference
	}

	sz := result.Geometry.Size
	rows := [][]string{
		{"mode", mode},
		{"images", fmt.Sprintf("%d", len(flist))},
		{"iso spacing (mm)", fmt.Sprintf("%.3f", result.IsoSpacing)},
		{"lattice", fmt.Sprintf("%dx%dx%d", sz[0], sz[1], sz[2])},
		{"output", output},
	}
	if manifest != nil {
		rows = append(rows, []string{"output name", manifest.OutputName})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Preprocess", "Value"}, rows))
}
