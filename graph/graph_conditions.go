package graph

// Condition is a condition on the graph config to execute a step
type Condition struct {
	Name string
	Pass func(GraphConfig) bool
}

// pass is a condition always true
var pass = Condition{"pass", func(config GraphConfig) bool { return true }}

// condSBAS & condNSBAS returns true if the inversion method of the config is sbas (resp. nsbas)
var condSBAS = Condition{"is_sbas", func(config GraphConfig) bool { return config[ConfigMethod] == MethodSBAS }}
var condNSBAS = Condition{"is_nsbas", func(config GraphConfig) bool { return config[ConfigMethod] == MethodNSBAS }}

var conditionJSON = map[string]Condition{
	pass.Name:      pass,
	condSBAS.Name:  condSBAS,
	condNSBAS.Name: condNSBAS,
}
