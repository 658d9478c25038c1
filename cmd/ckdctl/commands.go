package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/ingestion"
	"github.com/ai4ckd/platform/pkg/normalizer"
	"github.com/ai4ckd/platform/pkg/report"
	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/ai4ckd/platform/pkg/terminology"
	"github.com/spf13/cobra"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <export>",
		Short: "Score a registry export and print the most urgent patients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			top, _ := cmd.Flags().GetInt("top")
			asJSON, _ := cmd.Flags().GetBool("json")

			engine, job, err := importFile(cmd, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"import": job,
					"top":    engine.TopUrgent(top),
					"totals": engine.Totals(),
				})
			}
			printJob(out, job)
			return printQueue(out, engine, top)
		},
	}
	cmd.Flags().String("format", "", "Export format (csv or json); taken from the file extension when empty")
	cmd.Flags().Int("top", 20, "Number of patients to print; 0 prints all")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <export>",
		Short: "Score a registry export and write the regional XLSX report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			top, _ := cmd.Flags().GetInt("top")

			engine, job, err := importFile(cmd, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			f, err := os.Create(filepath.Clean(output))
			if err != nil {
				return fmt.Errorf("creating report: %w", err)
			}
			if err := report.Write(f, engine.Snapshot(top)); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing report: %w", err)
			}

			printJob(cmd.OutOrStdout(), job)
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Export format (csv or json); taken from the file extension when empty")
	cmd.Flags().StringP("output", "o", "ckd-report.xlsx", "Output XLSX path")
	cmd.Flags().Int("top", 500, "Patients listed on the queue sheet; 0 lists all")
	return cmd
}

func regionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the region registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("regions")
			query, _ := cmd.Flags().GetString("search")
			registry, err := geo.LoadRegistry(path)
			if err != nil {
				return err
			}

			regions := registry.Regions()
			if query != "" {
				regions = registry.Search(query, 0)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCAPITAL\tZONE\tPOPULATION")
			for _, r := range regions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Capital, r.Zone, r.Population)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringP("search", "s", "", "Filter by name or capital")
	return cmd
}

// importFile runs an export through a fresh in-memory engine.
func importFile(cmd *cobra.Command, path string) (*screening.Engine, *ingestion.Job, error) {
	engine, err := buildEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		engine.Close()
		return nil, nil, fmt.Errorf("reading export: %w", err)
	}
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	svc := ingestion.NewService(nil, nil, engine, 0)
	job, err := svc.Import(context.Background(), ingestion.Request{
		Source: filepath.Base(path),
		Format: format,
		Body:   body,
	})
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, job, nil
}

func buildEngine(cmd *cobra.Command) (*screening.Engine, error) {
	flags := cmd.Flags()
	weightsPath, _ := flags.GetString("weights")
	regionsPath, _ := flags.GetString("regions")
	termsPath, _ := flags.GetString("terminology")
	modelDir, _ := flags.GetString("model-dir")
	modelName, _ := flags.GetString("model-name")
	workers, _ := flags.GetInt("workers")

	catalog, err := terminology.Load(termsPath)
	if err != nil {
		return nil, err
	}
	weights, err := srirc.LoadWeights(weightsPath)
	if err != nil {
		return nil, err
	}
	scorer, err := srirc.NewScorer(weights)
	if err != nil {
		return nil, err
	}
	registry, err := geo.LoadRegistry(regionsPath)
	if err != nil {
		return nil, err
	}

	var primary staging.Classifier
	if modelDir != "" {
		primary = staging.NewModelClassifier(staging.NewArtifactModel(modelDir, modelName))
	}

	return screening.New(screening.Options{
		Store:      screening.NewMemoryStore(),
		Normalizer: normalizer.New(catalog),
		Classifier: staging.NewAdapter(primary, nil, 0),
		Scorer:     scorer,
		Registry:   registry,
		Workers:    workers,
	})
}

func printJob(w io.Writer, job *ingestion.Job) {
	fmt.Fprintf(w, "%s: %d rows, %d scored, %d rejected\n", job.Source, job.Total, job.Accepted, job.Rejected)
	for row, msg := range job.RowErrors {
		fmt.Fprintf(w, "  row %s: %v\n", row, msg)
	}
}

func printQueue(w io.Writer, engine *screening.Engine, n int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPATIENT\tREGION\tSTAGE\tEDFG\tSR-IRC\tTIER\tFALLBACK")
	for _, r := range engine.TopUrgent(n) {
		fallback := ""
		if r.Degraded {
			fallback = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.1f\t%d\t%s\t%s\n",
			r.Rank, r.PatientID, r.Region, r.Stage, r.EDFG, r.Score, r.Tier, fallback)
	}
	return tw.Flush()
}
