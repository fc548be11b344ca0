package graph

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/airbusgeo/geocube/interface/storage/uri"
	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"go.uber.org/zap/zapcore"
)

const (
	python       = "python"
	command      = "cmd"
	commandNoErr = "cmd_noerr"

	// Keys of the graph configuration
	ConfigGiantPath = "giant_path"
	ConfigPython    = "python"
	ConfigNProc     = "nproc"
	ConfigMethod    = "method"
	ConfigTSFile    = "ts_file"
	ConfigTSDataset = "ts_dataset"
	ConfigProducts  = "products"

	MethodSBAS  = "sbas"
	MethodNSBAS = "nsbas"
)

// Names of the built-in graphs
const (
	BaselineCatalogs    = "BaselineCatalogs"
	GIAnTPrepareStack   = "GIAnTPrepareStack"
	TimeSeriesInversion = "TimeSeriesInversion"
	StackBrowse         = "StackBrowse"
	TimeSeriesBrowse    = "TimeSeriesBrowse"
	defaultGraphPath    = "/data/graph"
	defaultGiantPath    = "/opt/giant"
	defaultPython2Path  = "python2"
)

type Arg interface{}

type ArgFixed string  // fixed arg
type ArgConfig string // arg from config
type ArgStack string  // file of the stack working directory (glob patterns are expanded)

// ProcessingStep is a command of the graph
// Args are formatted as --key=value (sorted by key) and followed by the Params
type ProcessingStep struct {
	Engine    string // python, cmd or cmd_noerr
	Command   string // {key} are replaced by the value of the config
	Args      map[string]Arg
	Params    []Arg
	Condition Condition
}

// GraphConfig is a configuration map for a processing graph
type GraphConfig map[string]string

// ProcessingGraph is a set of steps
type ProcessingGraph struct {
	steps []ProcessingStep
}

func (g *ProcessingGraph) Summary() string {
	s := fmt.Sprintf("- %d steps\n", len(g.steps))
	for _, step := range g.steps {
		s += fmt.Sprintf("   * %-10s%s (%v)\n", step.Engine, step.Command, step.Condition.Name)
	}
	return s
}

func fileExists(cwd, file string) (string, error) {
	if _, err := os.Stat(file); err == nil || !errors.Is(err, os.ErrNotExist) || cwd == "" {
		return file, err
	}
	file = path.Join(cwd, file)
	return fileExists("", file)
}

func newProcessingGraph(steps []ProcessingStep) (*ProcessingGraph, error) {
	for _, step := range steps {
		switch step.Engine {
		case python, command, commandNoErr:
		default:
			return nil, fmt.Errorf("newProcessingGraph: unknown engine %q for command %s", step.Engine, step.Command)
		}
		if step.Command == "" {
			return nil, fmt.Errorf("newProcessingGraph: empty command")
		}
		if step.Condition.Pass == nil {
			return nil, fmt.Errorf("newProcessingGraph: no condition for command %s", step.Command)
		}
	}
	return &ProcessingGraph{steps: steps}, nil
}

// LoadGraph returns the graph from its name and its default configuration
func LoadGraph(ctx context.Context, graphName string) (*ProcessingGraph, GraphConfig, error) {
	var steps []ProcessingStep
	switch graphName {
	case BaselineCatalogs:
		steps = baselineCatalogsSteps()
	case GIAnTPrepareStack:
		steps = giantPrepareStackSteps()
	case TimeSeriesInversion:
		steps = timeSeriesInversionSteps()
	case StackBrowse:
		steps = stackBrowseSteps()
	case TimeSeriesBrowse:
		steps = timeSeriesBrowseSteps()
	default:
		return LoadGraphFromFile(ctx, graphName)
	}
	g, err := newProcessingGraph(steps)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraph[%s].%w", graphName, err)
	}
	return g, DefaultConfig(), nil
}

// LoadGraphFromFile returns the graph from a filename
func LoadGraphFromFile(ctx context.Context, graphFile string) (*ProcessingGraph, GraphConfig, error) {
	f, err := fileExists(Getenv("GRAPHPATH", defaultGraphPath), graphFile)
	if err != nil {
		// Try to download it
		graphFileUri, e := uri.ParseUri(graphFile)
		if e != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unknown graph (%w-%v)", graphFile, err, e)
		}
		graphFilePath, err := ioutil.TempFile("", "")
		if err != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unable to create temp file: %w", graphFile, err)
		}
		graphFilePath.Close()
		defer os.Remove(graphFilePath.Name())
		if err := graphFileUri.DownloadToFile(ctx, graphFilePath.Name()); err != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unable to download: %w", graphFile, err)
		}
		f = graphFilePath.Name()
	}

	file, err := os.Open(f)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: %w", graphFile, err)
	}
	defer file.Close()

	graphJSON, err := decodeGraph(file)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s].%w", graphFile, err)
	}

	g, err := newProcessingGraph(graphJSON.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s].%w", graphFile, err)
	}

	config := DefaultConfig()
	for k, v := range graphJSON.Config {
		config[k] = v
	}
	return g, config, nil
}

// DefaultConfig returns the configuration shared by all the graphs
func DefaultConfig() GraphConfig {
	return GraphConfig{
		ConfigGiantPath: Getenv("GIANT_PATH", defaultGiantPath),
		ConfigPython:    Getenv("PYTHON2", defaultPython2Path),
		ConfigNProc:     strconv.Itoa(runtime.NumCPU()),
		ConfigMethod:    MethodSBAS,
	}
}

// Getenv retrieves the value of the environment variable named by the key.
// It returns the value, which will be defaultValue if the variable is not present.
func Getenv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

// giantPrepareStackSteps prepares the interferogram stack for GIAnT:
// data.xml, RAW-STACK.h5, sbas.xml and PROC-STACK.h5
// baselineCatalogsSteps dumps the ISCE baseline catalogs of the products listed in the config file to json
func baselineCatalogsSteps() []ProcessingStep {
	return []ProcessingStep{
		{
			Engine:    python,
			Command:   "dump_baselines.py",
			Params:    []Arg{ArgConfig(ConfigProducts)},
			Condition: pass,
		},
	}
}

func giantPrepareStackSteps() []ProcessingStep {
	return []ProcessingStep{
		{
			Engine:    python,
			Command:   "prepdataxml.py",
			Condition: pass,
		},
		{
			Engine:    command,
			Command:   "{giant_path}/PrepIgramStackWrapper.py",
			Condition: pass,
		},
		{
			Engine:    python,
			Command:   "prepsbasxml.py",
			Condition: pass,
		},
		{
			Engine:    command,
			Command:   "{giant_path}/ProcessStackWrapper.py",
			Condition: pass,
		},
	}
}

// timeSeriesInversionSteps inverts the stack with the method of the config
// and adds the time and geographic axes to the time series
func timeSeriesInversionSteps() []ProcessingStep {
	return []ProcessingStep{
		{
			Engine:    command,
			Command:   "{giant_path}/SBASInvertWrapper.py",
			Condition: condSBAS,
		},
		{
			Engine:    command,
			Command:   "{giant_path}/NSBASInvertWrapper.py",
			Params:    []Arg{ArgFixed("-nproc"), ArgConfig(ConfigNProc)},
			Condition: condNSBAS,
		},
		{
			Engine:  python,
			Command: "prep_tds.py",
			Args: map[string]Arg{
				"h5":   ArgConfig(ConfigTSFile),
				"axes": ArgStack("filt_info.json"),
			},
			Condition: pass,
		},
	}
}

func stackBrowseSteps() []ProcessingStep {
	return []ProcessingStep{
		{
			Engine:    commandNoErr,
			Command:   "convert",
			Params:    []Arg{ArgFixed("-loop"), ArgFixed("-0"), ArgFixed("-delay"), ArgFixed("100"), ArgStack("Figs/Igrams/*.png"), ArgStack("browse.gif")},
			Condition: pass,
		},
		{
			Engine:    commandNoErr,
			Command:   "convert",
			Params:    []Arg{ArgFixed("-resize"), ArgFixed("250x250"), ArgStack("browse.gif[0]"), ArgStack("browse_small.png")},
			Condition: pass,
		},
	}
}

func timeSeriesBrowseSteps() []ProcessingStep {
	return []ProcessingStep{
		{
			Engine:  commandNoErr,
			Command: "gdal_translate",
			Params: []Arg{
				ArgFixed("-of"), ArgFixed("GTiff"), ArgFixed("-outsize"), ArgFixed("50%"), ArgFixed("50%"), ArgFixed("-b"), ArgFixed("2"),
				ArgConfig(ConfigTSDataset), ArgStack("browse.tif"),
			},
			Condition: pass,
		},
		{
			Engine:    commandNoErr,
			Command:   "convert",
			Params:    []Arg{ArgStack("browse.tif"), ArgStack("browse.png")},
			Condition: pass,
		},
		{
			Engine:    commandNoErr,
			Command:   "convert",
			Params:    []Arg{ArgFixed("-resize"), ArgFixed("250x250"), ArgStack("browse.png"), ArgStack("browse_small.png")},
			Condition: pass,
		},
	}
}

func cmdToString(cmd *exec.Cmd) string {
	return strings.Join(cmd.Args, " ")
}

// resolveCommand looks for the command in the working directory, then in GRAPHPATH and finally in the PATH
func resolveCommand(name, workdir string) (string, error) {
	if workdir != "" && !filepath.IsAbs(name) {
		f := filepath.Join(workdir, name)
		if _, err := os.Stat(f); err == nil {
			return f, nil
		}
	}
	if f, err := fileExists(Getenv("GRAPHPATH", defaultGraphPath), name); err == nil {
		return f, nil
	}
	return exec.LookPath(name)
}

// Process runs the steps of the graph in the working directory
func (g *ProcessingGraph) Process(ctx context.Context, config GraphConfig, workdir string) error {
	for _, step := range g.steps {
		if !step.Condition.Pass(config) {
			continue
		}

		// Get args list
		args, err := step.formatArgs(config, workdir)
		if err != nil {
			return fmt.Errorf("process.%w", err)
		}

		name, err := resolveCommand(common.FormatBrackets(step.Command, config), workdir)
		if err != nil {
			return service.MakeFatal(fmt.Errorf("process: command not found: %s: %w", step.Command, err))
		}

		// Create command
		var cmd *exec.Cmd
		var filter LogFilter
		switch step.Engine {
		case python:
			cmd = exec.CommandContext(ctx, config[ConfigPython], append([]string{name}, args...)...)
			filter = &PythonLogFilter{}
		default:
			cmd = exec.CommandContext(ctx, name, args...)
			filter = &CmdLogFilter{}
		}
		cmd.Dir = workdir

		// Exec graph
		log.Logger(ctx).Sugar().Debug(cmdToString(cmd))
		if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(filter), log.StderrFilter(filter)); err != nil {
			// Error handling
			err = fmt.Errorf("process[%s]: %w", cmdToString(cmd), filter.WrapError(err))
			if step.Engine == commandNoErr {
				log.Logger(ctx).Sugar().Warnf("%v", err)
				continue
			}
			return err
		}
	}
	return nil
}

type LogFilter interface {
	log.Filter
	// WrapError wraps the error with additionnal information from the logs
	WrapError(err error) error
}

// PythonLogFilter formats log from python
type PythonLogFilter struct {
	lastError string
}

// CmdLogFilter formats log from other commands
type CmdLogFilter struct {
	lastError string
}

var temporaryErrs = []string{
	"temporary failure",
	"timed out",
}

// WrapError implements LogFilter
func (f *PythonLogFilter) WrapError(err error) error {
	if f.lastError != "" {
		err = service.MergeErrors(true, err, errors.New(f.lastError))
		if err != nil {
			strerr := strings.ToLower(err.Error())
			if strings.Contains(strerr, "fatal") {
				err = service.MakeFatal(err)
			} else {
				for _, tmpErr := range temporaryErrs {
					if strings.Contains(strerr, tmpErr) {
						return service.MakeTemporary(err)
					}
				}
			}
		}
	}
	return err
}

// Filter implement log.Filter
func (f *PythonLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmedmsg := strings.TrimSpace(msg)
	switch {
	case strings.HasPrefix(trimmedmsg, "FATAL:"), strings.HasPrefix(trimmedmsg, "ERROR:"), strings.HasPrefix(trimmedmsg, "Traceback"):
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	case strings.Contains(trimmedmsg, "Error:"):
		// last line of a python traceback
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	case strings.HasPrefix(trimmedmsg, "WARNING:"):
		return msg, zapcore.WarnLevel, false
	}
	return msg, defaultLevel, false
}

// WrapError implements LogFilter
func (f *CmdLogFilter) WrapError(err error) error {
	if f.lastError != "" && err != nil {
		if strings.Contains(f.lastError, "FATAL ERROR:") {
			err = service.MakeFatal(err)
		}
		if strings.Contains(f.lastError, "TEMPORARY ERROR:") {
			err = service.MakeTemporary(err)
		}
		return fmt.Errorf("%w (%v)", err, f.lastError)
	}
	return err
}

// Filter implement log.Filter
func (f *CmdLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	msg = strings.TrimSuffix(msg, "\n")
	trimmedmsg := strings.TrimSpace(msg)
	if strings.Contains(trimmedmsg, "ERROR:") {
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	} else if strings.HasPrefix(trimmedmsg, "WARN:") {
		return msg, zapcore.WarnLevel, false
	}
	return msg, zapcore.DebugLevel, false
}

func (step ProcessingStep) formatArgs(config GraphConfig, workdir string) ([]string, error) {
	var args []string

	params := make([]string, 0, len(step.Args))
	for param := range step.Args {
		params = append(params, param)
	}
	sort.Strings(params)
	for _, param := range params {
		values, err := formatArgs(step.Args[param], config, workdir)
		if err != nil {
			return nil, fmt.Errorf("formatArgs.%w", err)
		}
		args = append(args, fmt.Sprintf("--%s=%s", param, strings.Join(values, ",")))
	}

	for _, param := range step.Params {
		values, err := formatArgs(param, config, workdir)
		if err != nil {
			return nil, fmt.Errorf("formatArgs.%w", err)
		}
		args = append(args, values...)
	}
	return args, nil
}

func formatArgs(arg Arg, config GraphConfig, workdir string) ([]string, error) {
	switch key := arg.(type) {
	// Fixed arg
	case ArgFixed:
		return []string{string(key)}, nil

	// Args from config
	case ArgConfig:
		v, ok := config[string(key)]
		if !ok {
			return nil, fmt.Errorf("ArgConfig: key not found in config: %s", key)
		}
		return []string{v}, nil

	// Files of the stack
	case ArgStack:
		file := filepath.Join(workdir, string(key))
		if !strings.ContainsAny(string(key), "*?") {
			return []string{file}, nil
		}
		files, err := filepath.Glob(file)
		if err != nil {
			return nil, fmt.Errorf("ArgStack: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("ArgStack: no file matching %s", key)
		}
		return files, nil
	}
	return nil, fmt.Errorf("formatArgs: unknown arg type %T", arg)
}

// Runner loads the graphs by name and processes them
type Runner struct {
	Override GraphConfig // Overrides the default config of the graphs
}

// Run loads the graph and processes it in workdir with its default config, overridden by r.Override and config
func (r Runner) Run(ctx context.Context, graphName string, config GraphConfig, workdir string) error {
	g, graphConfig, err := LoadGraph(ctx, graphName)
	if err != nil {
		return fmt.Errorf("Run.%w", err)
	}
	for _, c := range []GraphConfig{r.Override, config} {
		for k, v := range c {
			graphConfig[k] = v
		}
	}
	log.Logger(ctx).Sugar().Infof("Running graph %s", graphName)
	if err := g.Process(ctx, graphConfig, workdir); err != nil {
		return fmt.Errorf("Run[%s].%w", graphName, err)
	}
	return nil
}
