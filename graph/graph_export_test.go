package graph

var ConditionPass = pass
var ConditionSBAS = condSBAS
var ConditionNSBAS = condNSBAS

var NewProcessingGraph = newProcessingGraph

func (step ProcessingStep) FormatArgs(config GraphConfig, workdir string) ([]string, error) {
	return step.formatArgs(config, workdir)
}
