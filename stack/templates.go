package stack

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/metadata"
)

// Files generated for GIAnT in the working directory
const (
	IfgListFile     = "ifg.list"
	RscFile         = "example.rsc"
	PrepDataXMLFile = "prepdataxml.py"
	PrepSBASXMLFile = "prepsbasxml.py"
	UserFnFile      = "userfn.py"
	DataXMLFile     = "data.xml"
	SBASXMLFile     = "sbas.xml"

	DumpBaselinesFile = "dump_baselines.py"
	ProductListFile   = "products.list"
)

//go:embed scripts/dump_baselines.py
var dumpBaselinesScript []byte

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	"py":  pyBool,
}).ParseFS(templateFS, "templates/*.tmpl"))

type templateData struct {
	filter.IfgInfo
	NValid        int
	PhaseFile     string
	CoherenceFile string
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func executeTemplate(file, name string, data templateData) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("executeTemplate: %w", err)
	}
	if err := templates.ExecuteTemplate(f, name, data); err != nil {
		f.Close()
		return fmt.Errorf("executeTemplate[%s]: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("executeTemplate: %w", err)
	}
	return nil
}

// writeIfgList writes one line per interferogram: start stop bperp sensor
func writeIfgList(w io.Writer, ifgs []filter.IfgInfo) error {
	for _, ifg := range ifgs {
		if _, err := fmt.Fprintf(w, "%s %s %7.2f %s\n", ifg.StartDt, ifg.StopDt, ifg.Bperp, ifg.Sensor); err != nil {
			return fmt.Errorf("writeIfgList: %w", err)
		}
	}
	return nil
}

// writeGIAnTInputs writes the inputs of the GIAnT preparation steps in workdir.
// The parameters are taken from the first interferogram.
func writeGIAnTInputs(workdir string, s *filter.Stack) error {
	ifgs := s.Ifgs()
	if len(ifgs) == 0 {
		return fmt.Errorf("writeGIAnTInputs: empty stack")
	}

	f, err := os.Create(filepath.Join(workdir, IfgListFile))
	if err != nil {
		return fmt.Errorf("writeGIAnTInputs: %w", err)
	}
	if err := writeIfgList(f, ifgs); err != nil {
		f.Close()
		return fmt.Errorf("writeGIAnTInputs.%w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writeGIAnTInputs: %w", err)
	}

	data := templateData{
		IfgInfo:       ifgs[0],
		NValid:        len(ifgs),
		PhaseFile:     metadata.AlignedPhaseFile,
		CoherenceFile: metadata.AlignedCohFile,
	}
	for _, file := range []string{RscFile, PrepDataXMLFile, PrepSBASXMLFile, UserFnFile} {
		if err := executeTemplate(filepath.Join(workdir, file), file+".tmpl", data); err != nil {
			return fmt.Errorf("writeGIAnTInputs.%w", err)
		}
	}
	return nil
}
