package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/metalineage/internal/dag"
	"github.com/leapstack-labs/metalineage/internal/state"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
	"github.com/spf13/cobra"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	LineageType string
	Format      string
	Transitive  bool
}

// AssetLineage is the stored lineage around one asset.
type AssetLineage struct {
	Asset       core.Asset        `json:"asset" yaml:"asset"`
	Upstream    []core.AssetLink  `json:"upstream" yaml:"upstream"`
	Downstream  []core.AssetLink  `json:"downstream" yaml:"downstream"`
	ColumnLinks []core.ColumnLink `json:"column_links" yaml:"column_links"`
	// Sources and Sinks are the ends of the transitive closure.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	Sinks   []string `json:"sinks,omitempty" yaml:"sinks,omitempty"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <asset-id>",
		Short: "Show the stored lineage of an asset",
		Long: `Display the upstream and downstream assets of an asset together with the
column links touching its columns, as written by the last refresh.`,
		Example: `  # Show lineage of a dataset
  metalineage lineage 'urn:li:dataset:(urn:li:dataPlatform:dbt,analytics.public.orders,PROD)'

  # Only direct column lineage, as JSON
  metalineage lineage <asset-id> --lineage-type direct_only --format json

  # Every asset the dataset transitively depends on or feeds
  metalineage lineage <asset-id> --transitive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.LineageType, "lineage-type", string(core.LineageAll), "Column lineage type (all|direct_only)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format (table|json|yaml)")
	cmd.Flags().BoolVar(&opts.Transitive, "transitive", false, "Follow asset links beyond direct neighbours")

	return cmd
}

func runLineage(cmd *cobra.Command, assetID string, opts *LineageOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	lt, err := core.ParseLineageType(opts.LineageType)
	if err != nil {
		return err
	}
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	asset, err := store.GetAsset(ctx, assetID)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("asset %s not found; run refresh first", assetID)
	}
	if err != nil {
		return err
	}

	out := AssetLineage{Asset: *asset}
	if opts.Transitive {
		links, err := store.ListAssetLinks(ctx, state.LinkFilter{})
		if err != nil {
			return err
		}
		closure(&out, links)
		cc.Logger.Debug("transitive lineage",
			"asset", assetID,
			"upstream", len(out.Upstream),
			"downstream", len(out.Downstream))
	} else {
		if out.Upstream, err = store.ListAssetLinks(ctx, state.LinkFilter{TargetID: assetID}); err != nil {
			return err
		}
		if out.Downstream, err = store.ListAssetLinks(ctx, state.LinkFilter{SourceID: assetID}); err != nil {
			return err
		}
	}
	if out.ColumnLinks, err = store.ListColumnLinks(ctx, state.LinkFilter{AssetID: assetID, LineageType: lt}); err != nil {
		return err
	}

	if opts.Format != FormatTable {
		return renderData(cmd.OutOrStdout(), opts.Format, out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s (%s)\n", orDash(asset.Name), asset.Type)
	if asset.Placeholder {
		fmt.Fprintln(w, "placeholder: referenced by lineage but not described by its resource")
	}

	assets := make([]table.Row, 0, len(out.Upstream)+len(out.Downstream))
	for _, l := range out.Upstream {
		assets = append(assets, table.Row{"upstream", linkLabel(l, assetID, l.SourceID)})
	}
	for _, l := range out.Downstream {
		assets = append(assets, table.Row{"downstream", linkLabel(l, assetID, l.TargetID)})
	}
	renderTable(w, "Assets", table.Row{"Direction", "Asset"}, assets)
	if opts.Transitive {
		ends := make([]table.Row, 0, len(out.Sources)+len(out.Sinks))
		for _, id := range out.Sources {
			ends = append(ends, table.Row{"source", id})
		}
		for _, id := range out.Sinks {
			ends = append(ends, table.Row{"sink", id})
		}
		renderTable(w, "Ends", table.Row{"Kind", "Asset"}, ends)
	}

	columns := make([]table.Row, 0, len(out.ColumnLinks))
	for _, l := range out.ColumnLinks {
		columns = append(columns, table.Row{
			columnLabel(l.SourceID),
			columnLabel(l.TargetID),
			joinConnections(l.ConnectionTypes),
		})
	}
	renderTable(w, fmt.Sprintf("Columns (%s)", lt), table.Row{"Source", "Target", "Connections"}, columns)
	return nil
}

// closure fills the upstream and downstream links of every asset reachable
// from out.Asset.
func closure(out *AssetLineage, links []core.AssetLink) {
	g := dag.NewGraph[core.AssetLink]()
	for _, l := range links {
		_ = g.Link(l.SourceID, l.TargetID, l)
	}
	id := out.Asset.ID
	if !g.HasNode(id) {
		return
	}

	up := g.Subgraph(append(g.GetUpstreamNodes(id), id))
	down := g.Subgraph(append(g.GetDownstreamNodes(id), id))
	for _, e := range up.Edges() {
		out.Upstream = append(out.Upstream, e.Data)
	}
	for _, e := range down.Edges() {
		out.Downstream = append(out.Downstream, e.Data)
	}
	if up.NodeCount() > 1 {
		out.Sources = up.GetRoots()
	}
	if down.NodeCount() > 1 {
		out.Sinks = down.GetLeaves()
	}
}

// linkLabel names the far end of a link, or the whole edge when the link does
// not touch the asset.
func linkLabel(l core.AssetLink, assetID, end string) string {
	if l.SourceID == assetID || l.TargetID == assetID {
		return end
	}
	return l.SourceID + " -> " + l.TargetID
}

// columnLabel shortens a schema field urn to dataset name and field path.
func columnLabel(id string) string {
	u, err := urn.Parse(id)
	if err != nil || u.FieldPath() == "" {
		return id
	}
	parent, ok := u.Parent()
	if !ok {
		return id
	}
	return parent.Name() + "." + urn.SimplifyFieldPath(u.FieldPath())
}

func joinConnections(types []core.ConnectionType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
