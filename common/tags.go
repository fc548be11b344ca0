package common

// Dataset and product types, tags of the met.json files
const (
	DatasetTypeIfgStack   = "ifg-stack"
	DatasetTypeTimeSeries = "displacement-time-series"

	TagTemporallyConnected = "temporally_connected"

	DatasetVersion = "v0.1"
)

// Product ID templates (see FormatBrackets)
const (
	StackIDTemplate      = "filtered-ifg-stack_{SENSOR}-TN{TRACK}-{STARTDT}Z-{ENDDT}Z-{HASH}-{VERSION}"
	TimeSeriesIDTemplate = "displacement-time-series-{METHOD}_{STACK}-{VERSION}"
)
