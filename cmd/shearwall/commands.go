package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"squatwall/internal/app"
	"squatwall/internal/config"
	"squatwall/internal/dataset"
	"squatwall/internal/domain"
	"squatwall/internal/logging"
	"squatwall/internal/ml/training"
	"squatwall/pkg/tracing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errPredictionFailed = errors.New("prediction failed")

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		logLevel string
		location string
		engine   *app.App
		logger   *zap.Logger
	)

	// build wires the engine lazily so params and demo-data run without a
	// dataset.
	build := func(cmd *cobra.Command) (*app.App, error) {
		if engine != nil {
			return engine, nil
		}
		_, tracer, err := tracing.InitTracer(cmd.Context(), tracing.Options{})
		if err != nil {
			return nil, err
		}
		c := *cfg
		if location != "" {
			c.DatasetLocation = location
		}
		engine = app.Build(&c, tracer, logger, app.Deps{})
		return engine, nil
	}

	root := &cobra.Command{
		Use:          "shearwall",
		Short:        "Peak shear strength of H-shaped RC squat walls",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logLevel)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	root.PersistentFlags().StringVar(&location, "dataset", "", "Dataset location (overrides DATASET_LOCATION)")

	var (
		model  string
		values string
	)
	predict := &cobra.Command{
		Use:   "predict",
		Short: "Predict peak shear strength for one wall",
		Long: `Predict peak shear strength for one wall.

Values are the twelve parameters in column order, comma separated. Omitted
values fall back to the defaults listed by "shearwall params".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseValues(values)
			if err != nil {
				return err
			}
			a, err := build(cmd)
			if err != nil {
				return err
			}
			var res domain.PredictionResult
			switch domain.ModelSource(model) {
			case domain.ModelClosedForm:
				res = a.Predictions.PredictClosedForm(cmd.Context(), raw)
			case domain.ModelEnsemble:
				res = a.Predictions.PredictEnsemble(cmd.Context(), raw)
			default:
				return fmt.Errorf("unknown model %q, want closed-form or ensemble", model)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text())
			if !res.OK() {
				return errPredictionFailed
			}
			return nil
		},
	}
	predict.Flags().StringVarP(&model, "model", "m", string(domain.ModelClosedForm), "closed-form or ensemble")
	predict.Flags().StringVar(&values, "values", "", "Twelve comma-separated parameter values")

	train := &cobra.Command{
		Use:   "train",
		Short: "Fit the ensemble on the dataset and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			m, err := a.Predictions.Train(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary(m))
		},
	}

	params := &cobra.Command{
		Use:   "params",
		Short: "List the input parameters with their ranges and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tKEY\tMIN\tMAX\tDEFAULT\tLABEL")
			for i, f := range domain.Fields() {
				fmt.Fprintf(w, "%d\t%s\t%g\t%g\t%g\t%s\n", i+1, f.Key, f.Min, f.Max, f.Default, f.Label)
			}
			return w.Flush()
		},
	}

	var (
		out string
		n   int
	)
	demo := &cobra.Command{
		Use:   "demo-data",
		Short: "Write a synthetic specimen CSV for trying the ensemble",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 2 {
				return fmt.Errorf("need at least 2 records, got %d", n)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := dataset.WriteCSV(f, training.SyntheticTable(n)); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d specimens to %s\n", n, out)
			return nil
		},
	}
	demo.Flags().StringVarP(&out, "out", "o", "specimens.csv", "Output CSV path")
	demo.Flags().IntVarP(&n, "records", "n", 120, "Number of specimens")

	root.AddCommand(predict, train, params, demo)
	return root
}

// parseValues reads a comma separated vector. An empty string selects the
// defaults.
func parseValues(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return domain.DefaultParameters().Slice(), nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %q is not a number", i+1, strings.TrimSpace(p))
		}
		out = append(out, v)
	}
	return out, nil
}

type modelSummary struct {
	RunID       string                  `json:"run_id"`
	Fingerprint string                  `json:"fingerprint"`
	Source      string                  `json:"source"`
	Train       int                     `json:"train"`
	Test        int                     `json:"test"`
	Trees       int                     `json:"trees"`
	Cleaning    training.CleaningReport `json:"cleaning"`
	Holdout     training.HoldoutMetrics `json:"holdout"`
}

func summary(m *training.TrainedModel) modelSummary {
	return modelSummary{
		RunID:       m.RunID,
		Fingerprint: m.Fingerprint,
		Source:      m.Source,
		Train:       m.TrainCount,
		Test:        m.TestCount,
		Trees:       m.NumTrees(),
		Cleaning:    m.Cleaning,
		Holdout:     m.Holdout,
	}
}
