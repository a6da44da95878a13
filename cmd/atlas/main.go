package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	"github.com/mohammed-shakir/geoatlas/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geoatlas/internal/metrics"
	"github.com/mohammed-shakir/geoatlas/internal/render"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "atlas",
		Short:         "Headless geologic map viewer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(layersCmd(), mergeCmd(), styleCmd(), inspectCmd(), watchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "atlas: %v\n", err)
		os.Exit(1)
	}
}

type layerIndex struct {
	Tables []struct {
		Name         string  `json:"name"`
		DisplayName  string  `json:"display_name"`
		FeatureCount int64   `json:"feature_count"`
		GeometryType *string `json:"geometry_type"`
	} `json:"tables"`
	Total int `json:"total"`
}

func layersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List the layers the data service offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			body, err := e.exec.FetchLayerIndex(cmd.Context())
			if err != nil {
				return err
			}
			var idx layerIndex
			if err := json.Unmarshal(body, &idx); err != nil {
				return fmt.Errorf("decode layer index: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LAYER\tNAME\tFEATURES\tGEOMETRY")
			for _, t := range idx.Tables {
				gt := "-"
				if t.GeometryType != nil {
					gt = *t.GeometryType
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.Name, t.DisplayName, t.FeatureCount, gt)
			}
			return tw.Flush()
		},
	}
}

func parseLayers(s string) ([]model.LayerID, error) {
	var out []model.LayerID
	for p := range strings.SplitSeq(s, ",") {
		id := model.LayerID(strings.TrimSpace(p))
		if id == "" {
			continue
		}
		if !id.Valid() {
			return nil, fmt.Errorf("invalid layer id %q", id)
		}
		out = append(out, id)
	}
	return out, nil
}

func mergeCmd() *cobra.Command {
	var layers string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Fetch the given layers and print the merged FeatureCollection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := parseLayers(layers)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			s, _, _, err := e.session(cmd.Context(), ids)
			if err != nil {
				return err
			}
			round := s.Controller().LastRound()
			for _, f := range round.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", f)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s.Controller().CurrentMerged())
		},
	}
	cmd.Flags().StringVarP(&layers, "layers", "l", "", "comma separated layer ids")
	return cmd
}

func styleCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "style",
		Short: "Print the compiled style layers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			layers := render.StyleLayers(render.DefaultSourceID, e.table, e.cfg.LabelAttribute)
			if asYAML {
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(layers)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(layers)
		},
	}
	cmd.Flags().BoolVarP(&asYAML, "yaml", "y", false, "output YAML instead of JSON")
	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		layers string
		index  int
		asHTML bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Click the n-th merged feature and print its detail view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := parseLayers(layers)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			s, canvas, _, err := e.session(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fc, ok := canvas.Source(render.DefaultSourceID)
			if !ok || index < 0 || index >= len(fc.Features) {
				n := 0
				if fc != nil {
					n = len(fc.Features)
				}
				return fmt.Errorf("feature index %d out of range (0..%d)", index, n-1)
			}
			f := fc.Features[index]
			canvas.Click(render.LayerID(render.DefaultSourceID, render.KindFor(f.Geometry)), f)
			s.Wait()

			if asHTML {
				return s.RenderDetail(cmd.OutOrStdout())
			}
			v := s.View()
			if v.Detail == nil {
				return fmt.Errorf("feature %d was not selected", index)
			}
			b, err := v.Detail.JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().StringVarP(&layers, "layers", "l", "", "comma separated layer ids")
	cmd.Flags().IntVarP(&index, "index", "i", 0, "feature index in the merged collection")
	cmd.Flags().BoolVar(&asHTML, "html", false, "render the detail panel as HTML")
	return cmd
}

func watchCmd() *cobra.Command {
	var layers string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep layers active and re-merge them on invalidation events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := parseLayers(layers)
			if err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			if p := metrics.Init(metrics.FromConfig(e.cfg.Metrics)); p.Dedicated() {
				observability.SetComponent("viewer")
				observability.Init(p.Registerer())
				go func() {
					if err := p.Serve(ctx, e.log); err != nil {
						e.log.Error("metrics listener stopped", "err", err)
					}
				}()
			}
			s, _, src, err := e.session(ctx, ids)
			if err != nil {
				return err
			}
			e.log.Info("watching layers", "layers", ids, "features", s.View().Features)

			c := kafkaconsumer.New(kafkaconsumer.FromConfig(e.cfg), e.log, src, s.Controller())
			return c.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&layers, "layers", "l", "", "comma separated layer ids")
	return cmd
}
