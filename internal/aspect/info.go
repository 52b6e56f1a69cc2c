package aspect

import (
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/urn"
)

type chartInfoAspect struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	ChartURL    string `mapstructure:"chartUrl"`
	ExternalURL string `mapstructure:"externalUrl"`
	Inputs      any    `mapstructure:"inputs"`
	InputEdges  any    `mapstructure:"inputEdges"`
}

type dashboardInfoAspect struct {
	Title        string `mapstructure:"title"`
	Description  string `mapstructure:"description"`
	DashboardURL string `mapstructure:"dashboardUrl"`
	ExternalURL  string `mapstructure:"externalUrl"`
	Charts       any    `mapstructure:"charts"`
	ChartEdges   any    `mapstructure:"chartEdges"`
	Datasets     any    `mapstructure:"datasets"`
	DatasetEdges any    `mapstructure:"datasetEdges"`
}

// ChartInfoStage names charts and links their input datasets to them.
type ChartInfoStage struct{}

// Name implements Stage.
func (ChartInfoStage) Name() string { return "chart-info" }

// Apply implements Stage.
func (ChartInfoStage) Apply(st *State) error {
	for _, u := range st.assetsOfKind(urn.KindChart) {
		id := u.String()
		asset := st.Assets[id]
		asset.Type = core.AssetTypeChart
		for _, info := range decodeAll[chartInfoAspect](st, id, AspectChartInfo) {
			setInfo(asset, info.Title, info.Description, firstNonEmpty(info.ChartURL, info.ExternalURL))
			for _, input := range urnsOf(info.Inputs, info.InputEdges) {
				st.link(input, id)
			}
		}
		backfillName(asset, u)
	}
	return nil
}

// DashboardInfoStage names dashboards and links their charts and datasets to them.
type DashboardInfoStage struct{}

// Name implements Stage.
func (DashboardInfoStage) Name() string { return "dashboard-info" }

// Apply implements Stage.
func (DashboardInfoStage) Apply(st *State) error {
	for _, u := range st.assetsOfKind(urn.KindDashboard) {
		id := u.String()
		asset := st.Assets[id]
		asset.Type = core.AssetTypeDashboard
		for _, info := range decodeAll[dashboardInfoAspect](st, id, AspectDashboardInfo) {
			setInfo(asset, info.Title, info.Description, firstNonEmpty(info.DashboardURL, info.ExternalURL))
			for _, input := range urnsOf(info.Charts, info.ChartEdges, info.Datasets, info.DatasetEdges) {
				st.link(input, id)
			}
		}
		backfillName(asset, u)
	}
	return nil
}

func setInfo(a *core.Asset, title, description, url string) {
	if title != "" {
		a.Name = title
	}
	if description != "" {
		a.Description = description
	}
	if url != "" {
		a.Config.URL = url
	}
}

// backfillName falls back to the platform id when no title was reported.
func backfillName(a *core.Asset, u urn.Urn) {
	if a.Name == "" {
		a.Name = u.Name()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
