package graph_test

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path"
	"strings"

	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/airbusgeo/insar-timeseries/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var tempDirs []string

func tempDir() string {
	dir, err := ioutil.TempDir("", "graph")
	Expect(err).NotTo(HaveOccurred())
	tempDirs = append(tempDirs, dir)
	return dir
}

var _ = AfterEach(func() {
	for _, dir := range tempDirs {
		os.RemoveAll(dir)
	}
	tempDirs = nil
})

func writeScript(dir, name, content string) {
	err := ioutil.WriteFile(path.Join(dir, name), []byte("#!/bin/sh\n"+content+"\n"), 0755)
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("LoadGraph", func() {

	pythonStep := graph.ProcessingStep{
		Engine:    "python",
		Command:   "prep_tds.py",
		Condition: graph.ConditionPass,

		Args: map[string]graph.Arg{
			"h5":   graph.ArgConfig("ts_file"),
			"axes": graph.ArgStack("filt_info.json"),
		},
	}

	cmdStep := graph.ProcessingStep{
		Engine:    "cmd",
		Command:   "{giant_path}/NSBASInvertWrapper.py",
		Condition: graph.ConditionNSBAS,

		Params: []graph.Arg{graph.ArgFixed("-nproc"), graph.ArgConfig("nproc")},
	}

	var stepsShouldBeEqual = func(final_step, expected_step graph.ProcessingStep) {
		Expect(final_step.Engine).To(Equal(expected_step.Engine))
		Expect(final_step.Command).To(Equal(expected_step.Command))
		Expect(final_step.Args).To(Equal(expected_step.Args))
		Expect(final_step.Params).To(Equal(expected_step.Params))
		Expect(final_step.Condition.Name).To(Equal(expected_step.Condition.Name))
	}

	Describe("Loading condition", func() {
		var final_condition, expected_condition graph.Condition
		var itShouldBeEqual = func() {
			It("should be equal", func() {
				Expect(final_condition.Name).To(Equal(expected_condition.Name))
			})
		}

		JustBeforeEach(func() {
			stepb, err := json.Marshal(&expected_condition)
			Expect(err).NotTo(HaveOccurred())
			err = json.Unmarshal(stepb, &final_condition)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("Pass", func() {
			BeforeEach(func() {
				expected_condition = graph.ConditionPass
			})
			itShouldBeEqual()
		})

		Context("SBAS", func() {
			BeforeEach(func() {
				expected_condition = graph.ConditionSBAS
			})
			itShouldBeEqual()
		})

		Context("NSBAS", func() {
			BeforeEach(func() {
				expected_condition = graph.ConditionNSBAS
			})
			itShouldBeEqual()
		})

		It("should fail on unknown condition", func() {
			var c graph.Condition
			Expect(json.Unmarshal([]byte(`"different_T0_T1"`), &c)).To(HaveOccurred())
		})
	})

	Describe("Loading argument", func() {
		var final_arg, expected_arg graph.Arg
		var itShouldBeEqual = func() {
			It("should be equal", func() {
				Expect(expected_arg).To(Equal(final_arg))
			})
		}

		JustBeforeEach(func() {
			stepb, err := json.Marshal(&expected_arg)
			Expect(err).NotTo(HaveOccurred())
			var argJson graph.ArgJSON
			err = json.Unmarshal(stepb, &argJson)
			Expect(err).NotTo(HaveOccurred())
			final_arg = argJson.Arg
		})

		Context("ArgFixed", func() {
			BeforeEach(func() {
				expected_arg = graph.ArgFixed("fixed_arg")
			})
			itShouldBeEqual()
		})

		Context("ArgConfig", func() {
			BeforeEach(func() {
				expected_arg = graph.ArgConfig("config_flag")
			})
			itShouldBeEqual()
		})

		Context("ArgStack", func() {
			BeforeEach(func() {
				expected_arg = graph.ArgStack("Stack/RAW-STACK.h5")
			})
			itShouldBeEqual()
		})

		It("should fail on unknown type", func() {
			var argJson graph.ArgJSON
			Expect(json.Unmarshal([]byte(`{"type":"tile","value":"swath"}`), &argJson)).To(HaveOccurred())
		})
	})

	Describe("Loading step", func() {
		var final_step, expected_step graph.ProcessingStep

		JustBeforeEach(func() {
			stepb, err := json.Marshal(&expected_step)
			Expect(err).NotTo(HaveOccurred())
			err = json.Unmarshal(stepb, &final_step)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("python step", func() {
			BeforeEach(func() {
				expected_step = pythonStep
			})
			It("should be equal", func() {
				stepsShouldBeEqual(final_step, expected_step)
			})
		})

		Context("cmd step", func() {
			BeforeEach(func() {
				expected_step = cmdStep
			})
			It("should be equal", func() {
				stepsShouldBeEqual(final_step, expected_step)
			})
		})

		It("should default to condition pass", func() {
			var step graph.ProcessingStep
			Expect(json.Unmarshal([]byte(`{"engine":"cmd","command":"convert"}`), &step)).To(Succeed())
			Expect(step.Condition.Name).To(Equal(graph.ConditionPass.Name))
			Expect(step.Condition.Pass(graph.GraphConfig{})).To(BeTrue())
		})
	})

	Describe("Loading graph", func() {
		var (
			graphFile string
			g         *graph.ProcessingGraph
			config    graph.GraphConfig
			err       error
		)

		BeforeEach(func() {
			graphJSON := graph.ProcessingGraphJSON{
				Config: map[string]string{"nproc": "2", "ts_file": "Stack/NSBAS-PARAMS.h5"},
				Steps:  []graph.ProcessingStep{cmdStep, pythonStep},
			}
			b, e := json.Marshal(graphJSON)
			Expect(e).NotTo(HaveOccurred())
			graphFile = path.Join(tempDir(), "inversion.json")
			Expect(ioutil.WriteFile(graphFile, b, 0644)).To(Succeed())
		})

		JustBeforeEach(func() {
			g, config, err = graph.LoadGraph(context.Background(), graphFile)
		})

		It("should load the steps", func() {
			Expect(err).NotTo(HaveOccurred())
			summary := g.Summary()
			Expect(summary).To(HavePrefix("- 2 steps\n"))
			Expect(summary).To(ContainSubstring("NSBASInvertWrapper.py (is_nsbas)"))
			Expect(summary).To(ContainSubstring("prep_tds.py (pass)"))
		})

		It("should merge the config with the default config", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(config["nproc"]).To(Equal("2"))
			Expect(config["ts_file"]).To(Equal("Stack/NSBAS-PARAMS.h5"))
			Expect(config).To(HaveKey(graph.ConfigGiantPath))
			Expect(config[graph.ConfigMethod]).To(Equal(graph.MethodSBAS))
		})

		Context("unknown engine", func() {
			BeforeEach(func() {
				Expect(ioutil.WriteFile(graphFile, []byte(`{"processing_steps":[{"engine":"snap","command":"graph.xml"}]}`), 0644)).To(Succeed())
			})
			It("should fail", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		Context("built-in graph", func() {
			BeforeEach(func() {
				graphFile = graph.GIAnTPrepareStack
			})
			It("should load the GIAnT preparation steps", func() {
				Expect(err).NotTo(HaveOccurred())
				summary := g.Summary()
				Expect(summary).To(HavePrefix("- 4 steps\n"))
				Expect(strings.Index(summary, "prepdataxml.py")).To(BeNumerically("<", strings.Index(summary, "PrepIgramStackWrapper.py")))
				Expect(strings.Index(summary, "prepsbasxml.py")).To(BeNumerically("<", strings.Index(summary, "ProcessStackWrapper.py")))
			})
		})
	})
})

var _ = Describe("FormatArgs", func() {
	var (
		workdir string
		config  graph.GraphConfig
	)

	BeforeEach(func() {
		workdir = tempDir()
		config = graph.GraphConfig{"nproc": "8"}
	})

	It("should format the args sorted by key, followed by the params", func() {
		step := graph.ProcessingStep{
			Args: map[string]graph.Arg{
				"out": graph.ArgStack("out.h5"),
				"in":  graph.ArgFixed("a b"),
			},
			Params: []graph.Arg{graph.ArgFixed("-nproc"), graph.ArgConfig("nproc")},
		}
		args, err := step.FormatArgs(config, workdir)
		Expect(err).NotTo(HaveOccurred())
		Expect(args).To(Equal([]string{"--in=a b", "--out=" + path.Join(workdir, "out.h5"), "-nproc", "8"}))
	})

	It("should fail on missing config", func() {
		step := graph.ProcessingStep{Params: []graph.Arg{graph.ArgConfig("method")}}
		_, err := step.FormatArgs(config, workdir)
		Expect(err).To(HaveOccurred())
	})

	It("should expand the patterns of the stack", func() {
		Expect(os.MkdirAll(path.Join(workdir, "Figs"), 0755)).To(Succeed())
		for _, f := range []string{"b.png", "a.png", "c.txt"} {
			Expect(ioutil.WriteFile(path.Join(workdir, "Figs", f), nil, 0644)).To(Succeed())
		}
		step := graph.ProcessingStep{Params: []graph.Arg{graph.ArgStack("Figs/*.png"), graph.ArgStack("browse.gif")}}
		args, err := step.FormatArgs(config, workdir)
		Expect(err).NotTo(HaveOccurred())
		Expect(args).To(Equal([]string{path.Join(workdir, "Figs", "a.png"), path.Join(workdir, "Figs", "b.png"), path.Join(workdir, "browse.gif")}))

		step = graph.ProcessingStep{Params: []graph.Arg{graph.ArgStack("Figs/*.gif")}}
		_, err = step.FormatArgs(config, workdir)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Process", func() {
	var (
		workdir string
		config  graph.GraphConfig
		steps   []graph.ProcessingStep
		err     error
	)

	BeforeEach(func() {
		workdir = tempDir()
		config = graph.GraphConfig{graph.ConfigPython: "/bin/sh", graph.ConfigMethod: graph.MethodNSBAS, graph.ConfigNProc: "4"}
		writeScript(workdir, "sbas.sh", `echo sbas > method.txt`)
		writeScript(workdir, "nsbas.sh", `echo "nsbas $@" > method.txt`)
		writeScript(workdir, "fails.sh", `echo "FATAL ERROR: invalid stack" >&2; exit 1`)
		writeScript(workdir, "tmp_fails.sh", `echo "TEMPORARY ERROR: connection reset"; exit 2`)
		steps = []graph.ProcessingStep{
			{Engine: "cmd", Command: "sbas.sh", Condition: graph.ConditionSBAS},
			{Engine: "cmd", Command: "nsbas.sh", Params: []graph.Arg{graph.ArgFixed("-nproc"), graph.ArgConfig("nproc")}, Condition: graph.ConditionNSBAS},
		}
	})

	JustBeforeEach(func() {
		g, e := graph.NewProcessingGraph(steps)
		Expect(e).NotTo(HaveOccurred())
		err = g.Process(context.Background(), config, workdir)
	})

	readFile := func(name string) string {
		b, e := ioutil.ReadFile(path.Join(workdir, name))
		Expect(e).NotTo(HaveOccurred())
		return strings.TrimSpace(string(b))
	}

	It("should only run the steps passing the condition", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(readFile("method.txt")).To(Equal("nsbas -nproc 4"))
	})

	Context("python step", func() {
		BeforeEach(func() {
			writeScript(workdir, "prep.py", `echo "$@" > python.txt`)
			steps = []graph.ProcessingStep{{Engine: "python", Command: "prep.py", Args: map[string]graph.Arg{"h5": graph.ArgFixed("ts.h5")}, Condition: graph.ConditionPass}}
		})
		It("should run the script with the interpreter", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(readFile("python.txt")).To(Equal("--h5=ts.h5"))
		})
	})

	Context("fatal failure", func() {
		BeforeEach(func() {
			steps = append([]graph.ProcessingStep{{Engine: "cmd", Command: "fails.sh", Condition: graph.ConditionPass}}, steps...)
		})
		It("should stop with a fatal error", func() {
			Expect(err).To(HaveOccurred())
			Expect(service.Fatal(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("invalid stack"))
			_, e := os.Stat(path.Join(workdir, "method.txt"))
			Expect(os.IsNotExist(e)).To(BeTrue())
		})
	})

	Context("temporary failure", func() {
		BeforeEach(func() {
			steps = []graph.ProcessingStep{{Engine: "cmd", Command: "tmp_fails.sh", Condition: graph.ConditionPass}}
		})
		It("should return a temporary error", func() {
			Expect(err).To(HaveOccurred())
			Expect(service.Temporary(err)).To(BeTrue())
		})
	})

	Context("failure of a cmd_noerr step", func() {
		BeforeEach(func() {
			steps = append([]graph.ProcessingStep{{Engine: "cmd_noerr", Command: "fails.sh", Condition: graph.ConditionPass}}, steps...)
		})
		It("should continue", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(readFile("method.txt")).To(Equal("nsbas -nproc 4"))
		})
	})

	Context("unknown command", func() {
		BeforeEach(func() {
			steps = []graph.ProcessingStep{{Engine: "cmd", Command: "{giant_path}/ProcessStackWrapper.py", Condition: graph.ConditionPass}}
			config[graph.ConfigGiantPath] = path.Join(workdir, "giant")
		})
		It("should fail", func() {
			Expect(err).To(HaveOccurred())
			Expect(service.Fatal(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Runner", func() {
	var (
		workdir string
		runner  graph.Runner
	)

	BeforeEach(func() {
		workdir = tempDir()
		runner = graph.Runner{Override: graph.GraphConfig{graph.ConfigPython: "/bin/sh", graph.ConfigGiantPath: workdir}}
	})

	readFile := func(name string) string {
		b, e := ioutil.ReadFile(path.Join(workdir, name))
		Expect(e).NotTo(HaveOccurred())
		return strings.TrimSpace(string(b))
	}

	It("should dump the baseline catalogs with the script of the working directory", func() {
		writeScript(workdir, "dump_baselines.py", `echo "$@" > baselines.txt`)
		err := runner.Run(context.Background(), graph.BaselineCatalogs, graph.GraphConfig{graph.ConfigProducts: path.Join(workdir, "products.list")}, workdir)
		Expect(err).NotTo(HaveOccurred())
		Expect(readFile("baselines.txt")).To(Equal(path.Join(workdir, "products.list")))
	})

	It("should fail without the products", func() {
		writeScript(workdir, "dump_baselines.py", `exit 0`)
		Expect(runner.Run(context.Background(), graph.BaselineCatalogs, nil, workdir)).NotTo(Succeed())
	})

	It("should add the axes to the time series with the script of the working directory", func() {
		writeScript(workdir, "SBASInvertWrapper.py", `echo sbas > method.txt`)
		writeScript(workdir, "prep_tds.py", `echo "$@" > tds.txt`)
		err := runner.Run(context.Background(), graph.TimeSeriesInversion, graph.GraphConfig{
			graph.ConfigMethod: graph.MethodSBAS,
			graph.ConfigTSFile: "Stack/LS-PARAMS.h5",
		}, workdir)
		Expect(err).NotTo(HaveOccurred())
		Expect(readFile("method.txt")).To(Equal("sbas"))
		Expect(readFile("tds.txt")).To(Equal("--axes=" + path.Join(workdir, "filt_info.json") + " --h5=Stack/LS-PARAMS.h5"))
	})

	It("should fail when prep_tds.py is missing", func() {
		writeScript(workdir, "SBASInvertWrapper.py", `exit 0`)
		err := runner.Run(context.Background(), graph.TimeSeriesInversion, graph.GraphConfig{
			graph.ConfigMethod: graph.MethodSBAS,
			graph.ConfigTSFile: "Stack/LS-PARAMS.h5",
		}, workdir)
		Expect(service.Fatal(err)).To(BeTrue())
	})
})
