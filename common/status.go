package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

// Status of a run, published at the end of a command
type Status int

const (
	StatusDONE Status = iota
	StatusFAILED
	StatusEXISTING // the product was already generated and indexed
)
