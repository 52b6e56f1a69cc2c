package aspect

type usageAspect struct {
	TimestampMillis int64  `mapstructure:"timestampMillis"`
	ViewsCount      *int64 `mapstructure:"viewsCount"`
}

// UsageStage sets Config.Views to the most recently reported view count of charts
// and dashboards.
type UsageStage struct{}

// Name implements Stage.
func (UsageStage) Name() string { return "usage" }

// Apply implements Stage.
func (UsageStage) Apply(st *State) error {
	for _, aspect := range []string{AspectChartUsage, AspectDashboardUsage} {
		for _, id := range st.Rows.WithAspect(aspect) {
			asset, ok := st.Assets[id]
			if !ok {
				continue
			}
			var latest *usageAspect
			for _, u := range decodeAll[usageAspect](st, id, aspect) {
				if u.ViewsCount == nil {
					continue
				}
				// Ties go to the later row.
				if latest == nil || u.TimestampMillis >= latest.TimestampMillis {
					latest = &u
				}
			}
			if latest != nil {
				views := *latest.ViewsCount
				asset.Config.Views = &views
			}
		}
	}
	return nil
}
