package filter_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Evaluate", func() {
	var phase, coherence *raster.Grid
	var evaluation filter.Evaluation
	window := filter.NewReferenceWindow(4, 4, 1, 1)
	cohth, covth, noData := 0.3, 0.5, 0.

	JustBeforeEach(func() {
		evaluation = filter.Evaluate(phase, coherence, window, cohth, covth, noData)
	})

	Context("all pixels valid", func() {
		BeforeEach(func() {
			phase, coherence = constant(2), constant(0.9)
		})
		It("should accept with a full coverage", func() {
			Expect(evaluation.Accept).To(BeTrue())
			Expect(evaluation.Coverage).To(Equal(1.))
			Expect(evaluation.RefMeanPhase).To(Equal(2.))
		})
	})

	Context("all coherences are NaN", func() {
		BeforeEach(func() {
			phase, coherence = constant(2), constant(nan)
		})
		It("should reject with no coverage", func() {
			Expect(evaluation.Accept).To(BeFalse())
			Expect(evaluation.Coverage).To(Equal(0.))
			Expect(math.IsNaN(evaluation.RefMeanPhase)).To(BeTrue())
			Expect(evaluation.Reason).To(Equal(filter.OutcomeNoReferencePhase))
		})
	})

	Context("coherence equal to the threshold", func() {
		BeforeEach(func() {
			phase, coherence = constant(2), constant(cohth)
		})
		It("should be valid", func() {
			Expect(evaluation.Accept).To(BeTrue())
			Expect(evaluation.Coverage).To(Equal(1.))
		})
	})

	Context("no-data phase in the reference window", func() {
		BeforeEach(func() {
			coherence = constant(0.9)
			phase = newGrid(10, 10, func(i, j int) float64 {
				switch {
				case i == 3 && j == 3:
					return noData
				case i == 4:
					return 4
				}
				return 1
			})
		})
		It("should ignore the no-data pixel", func() {
			// Valid pixels of the window: (3,4)=1, (4,3)=4, (4,4)=4
			Expect(evaluation.RefMeanPhase).To(Equal(3.))
			Expect(evaluation.Accept).To(BeTrue())
			Expect(evaluation.Coverage).To(Equal(1.))
		})
	})

	Context("only no-data phases in the reference window", func() {
		BeforeEach(func() {
			coherence = constant(0.9)
			phase = newGrid(10, 10, func(i, j int) float64 {
				if i >= 3 && i < 5 && j >= 3 && j < 5 {
					return noData
				}
				return 1
			})
		})
		It("should reject", func() {
			Expect(evaluation.Accept).To(BeFalse())
			Expect(evaluation.Reason).To(Equal(filter.OutcomeNoReferencePhase))
		})
	})

	Context("coverage equal to the threshold", func() {
		BeforeEach(func() {
			phase, coherence = constant(1), validRows(5)
			// The two first columns have 4 valid lines, the others 5
			coherence.Set(4, 0, 0)
			coherence.Set(4, 1, 0)
		})
		It("should measure the best covered column", func() {
			Expect(evaluation.Coverage).To(Equal(0.5))
			Expect(evaluation.Accept).To(BeTrue())
		})
	})

	Context("best column below the threshold", func() {
		BeforeEach(func() {
			phase = constant(1)
			// 40% of the pixels are valid, 4 lines per column
			coherence = newGrid(10, 10, func(i, j int) float64 {
				if i >= 3 && i < 7 {
					return 0.9
				}
				return 0
			})
		})
		It("should reject", func() {
			Expect(evaluation.Coverage).To(Equal(0.4))
			Expect(evaluation.Accept).To(BeFalse())
			Expect(evaluation.Reason).To(Equal(filter.OutcomeLowCoverage))
		})
	})
})

var _ = Describe("CoverageMask", func() {
	It("should be valid iff coherence >= threshold", func() {
		values := []float64{0, 0.1, 0.29, 0.3, 0.31, 1, nan, 0.5}
		coh, err := raster.NewGrid(2, 4, values, gt)
		Expect(err).NotTo(HaveOccurred())
		phs, err := raster.NewGrid(2, 4, []float64{1, 1, 1, 1, 1, 1, 1, -9999}, gt)
		Expect(err).NotTo(HaveOccurred())
		for k := 0; k < 2; k++ {
			mask := filter.CoverageMask(phs, coh, 0.3, -9999)
			for i, v := range values {
				m := mask.At(i/4, i%4)
				if v >= 0.3 && i != 7 {
					Expect(m).To(Equal(1.))
				} else {
					Expect(math.IsNaN(m)).To(BeTrue())
				}
			}
		}
	})

	It("should have a coverage in [0, 1]", func() {
		Expect(filter.LatitudeCoverage(filter.CoverageMask(constant(1), constant(1), 0.3, 0))).To(Equal(1.))
		Expect(filter.LatitudeCoverage(filter.CoverageMask(constant(1), constant(0), 0.3, 0))).To(Equal(0.))
		Expect(filter.LatitudeCoverage(filter.CoverageMask(constant(0), constant(1), 0.3, 0))).To(Equal(0.))
	})
})

var _ = Describe("Window", func() {
	It("should be centered on the reference", func() {
		w := filter.NewReferenceWindow(10, 20, 2, 3)
		Expect(w.X).To(Equal([2]int{8, 12}))
		Expect(w.Y).To(Equal([2]int{17, 23}))
		Expect(w.Empty()).To(BeFalse())
		Expect(w.Within(12, 23)).To(BeTrue())
		Expect(w.Within(11, 23)).To(BeFalse())
		Expect(filter.NewReferenceWindow(1, 1, 2, 2).Within(10, 10)).To(BeFalse())
		Expect(filter.NewReferenceWindow(1, 1, 0, 0).Empty()).To(BeTrue())
	})
})

var _ = Describe("Deduplicator", func() {
	var dedup *filter.Deduplicator
	key := common.NewDateKey("20190103", "20190115")

	BeforeEach(func() {
		dedup = filter.NewDeduplicator()
	})

	It("should replace with a better coverage", func() {
		Expect(dedup.Admit(key, 0.4)).To(Equal(filter.Keep))
		Expect(dedup.Admit(key, 0.7)).To(Equal(filter.Replace))
		c, ok := dedup.Coverage(key)
		Expect(ok).To(BeTrue())
		Expect(c).To(Equal(0.7))
	})

	It("should reject a lower coverage", func() {
		Expect(dedup.Admit(key, 0.7)).To(Equal(filter.Keep))
		Expect(dedup.Admit(key, 0.4)).To(Equal(filter.Reject))
		c, _ := dedup.Coverage(key)
		Expect(c).To(Equal(0.7))
	})

	It("should keep the first one in case of tie", func() {
		Expect(dedup.Admit(key, 0.5)).To(Equal(filter.Keep))
		Expect(dedup.Admit(key, 0.5)).To(Equal(filter.Reject))
	})

	It("should handle keys independently", func() {
		Expect(dedup.Admit(key, 0.5)).To(Equal(filter.Keep))
		Expect(dedup.Admit(common.NewDateKey("20190103", "20190127"), 0.1)).To(Equal(filter.Keep))
	})
})

var _ = Describe("LinkStager", func() {
	var stager filter.LinkStager
	var productA, productB string
	key := common.NewDateKey("20190103", "20190115")

	BeforeEach(func() {
		stager = filter.LinkStager{Dir: tempDir()}
		productA = filepath.Join(tempDir(), "A")
		productB = filepath.Join(tempDir(), "B")
		Expect(os.Mkdir(productA, 0755)).To(Succeed())
		Expect(os.Mkdir(productB, 0755)).To(Succeed())
	})

	It("should stage and replace atomically", func() {
		Expect(stager.Stage(key, productA)).To(Succeed())
		Expect(os.Readlink(stager.Path(key))).To(Equal(productA))
		Expect(stager.Stage(key, productB)).To(Succeed())
		Expect(os.Readlink(stager.Path(key))).To(Equal(productB))

		entries, err := os.ReadDir(stager.Dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})

	It("should release idempotently", func() {
		Expect(stager.Stage(key, productA)).To(Succeed())
		Expect(stager.Release(key)).To(Succeed())
		_, err := os.Lstat(stager.Path(key))
		Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
		Expect(stager.Release(key)).To(Succeed())
	})
})

var _ = Describe("MergeIntervals", func() {
	day := func(d int) time.Time { return time.Date(2019, 1, d, 0, 0, 0, 0, time.UTC) }
	in := func(s, e int) filter.Interval { return filter.Interval{Start: day(s), End: day(e)} }

	It("should merge overlapping intervals", func() {
		input := []filter.Interval{in(7, 9), in(1, 3), in(2, 5)}
		merged := filter.MergeIntervals(input)
		Expect(merged).To(Equal([]filter.Interval{in(1, 5), in(7, 9)}))
		Expect(filter.Gaps(merged)).To(Equal([]filter.Interval{in(5, 7)}))
		Expect(filter.Connected(merged)).To(BeFalse())
		Expect(input[0]).To(Equal(in(7, 9)))
	})

	It("should keep disjoint intervals", func() {
		merged := filter.MergeIntervals([]filter.Interval{in(1, 2), in(3, 4)})
		Expect(merged).To(Equal([]filter.Interval{in(1, 2), in(3, 4)}))
	})

	It("should be idempotent on a single interval", func() {
		merged := filter.MergeIntervals([]filter.Interval{in(1, 2)})
		Expect(merged).To(Equal([]filter.Interval{in(1, 2)}))
		Expect(filter.MergeIntervals(merged)).To(Equal(merged))
		Expect(filter.Connected(merged)).To(BeTrue())
		Expect(filter.Gaps(merged)).To(BeEmpty())
	})

	It("should merge adjacent intervals", func() {
		merged := filter.MergeIntervals([]filter.Interval{in(1, 3), in(3, 5)})
		Expect(merged).To(Equal([]filter.Interval{in(1, 5)}))
	})

	It("should not shrink an interval containing the next one", func() {
		merged := filter.MergeIntervals([]filter.Interval{in(1, 10), in(2, 5), in(8, 12)})
		Expect(merged).To(Equal([]filter.Interval{in(1, 12)}))
	})

	It("should return nil on empty input", func() {
		Expect(filter.MergeIntervals(nil)).To(BeNil())
	})
})

var _ = Describe("Selector", func() {
	var (
		ctx       = context.Background()
		rasters   *MokeRaster
		metas     *MokeMetadata
		selector  *filter.Selector
		stager    filter.LinkStager
		params    filter.Params
		products  []string
		stack     *filter.Stack
		selectErr error
	)
	keyB := common.NewDateKey("20190103", "20190115")

	count := func(o filter.Outcome) float64 {
		return testutil.ToFloat64(selector.Metrics.Products.WithLabelValues(string(o)))
	}

	BeforeEach(func() {
		metrics, err := filter.NewMetrics(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())
		rasters, metas = NewMokeRaster(), NewMokeMetadata()
		stager = filter.LinkStager{Dir: tempDir()}
		selector = &filter.Selector{Raster: rasters, Metadata: metas, Stager: stager, Metrics: metrics}
		params = filter.Params{
			ROI:            common.ROI{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1},
			RefPoint:       common.ReferencePoint{Lat: 0.55, Lon: 0.45, HalfWidth: 1, HalfHeight: 1},
			CoverageTh:     0.5,
			CoherenceTh:    0.3,
			Subswath:       "2",
			RangePixelSize: 2.3,
			NetRamp:        true,
		}
		products = nil
	})

	JustBeforeEach(func() {
		stack, selectErr = selector.Select(ctx, products, params)
	})

	Context("end-to-end", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/A", "1", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/A", constant(1), validRows(10))
			metas.AddProduct("/data/B", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/B", constant(1), validRows(6))
			metas.AddProduct("/data/C", "2", "2019-01-03T01:02:13Z", "2019-01-15T01:02:15Z", "S1B")
			rasters.AddProduct("/data/C", constant(1), validRows(4))
			products = []string{"/data/A", "/data/B", "/data/C"}
		})

		It("should retain B only", func() {
			Expect(selectErr).NotTo(HaveOccurred())
			Expect(stack.Keys()).To(Equal([]common.DateKey{keyB}))
			Expect(stack.Coverage[keyB]).To(Equal(0.6))
			info := stack.Info[keyB]
			Expect(info.Product).To(Equal("/data/B"))
			Expect(info.StartDt).To(Equal("20190103"))
			Expect(info.StopDt).To(Equal("20190115"))
			Expect(info.Bperp).To(Equal(12.5))
			Expect(info.Sensor).To(Equal("S1"))
			Expect(info.SensorName).To(Equal("SAR-C Sentinel1"))
			Expect(info.Platform).To(Equal("Sentinel-1A"))
			Expect(info.Width).To(Equal(10))
			Expect(info.Length).To(Equal(10))
			Expect(info.XLim).To(Equal([2]int{0, 10}))
			Expect(info.RXLim).To(Equal([2]int{3, 5}))
			Expect(info.RYLim).To(Equal([2]int{3, 5}))
			Expect(info.CohTh).To(Equal(0.3))
			Expect(info.RangePixelSize).To(Equal(2.3))
			Expect(info.NetRamp).To(BeTrue())
			Expect(info.CenterLineUTC).To(Equal(3723))
			Expect(info.UnwVrtOut).To(Equal("/data/B/merged/aligned.unw.vrt"))
			Expect(stack.CenterLinesUTC).To(HaveLen(1))
			Expect(stack.GeoTransform).To(Equal(gt))
			Expect(stack.Lats).To(HaveLen(10))
		})

		It("should count the outcomes", func() {
			Expect(count(filter.OutcomeSwathMismatch)).To(Equal(1.))
			Expect(count(filter.OutcomeKept)).To(Equal(1.))
			Expect(count(filter.OutcomeLowCoverage)).To(Equal(1.))
			Expect(testutil.ToFloat64(selector.Metrics.StackSize)).To(Equal(1.))
		})

		It("should stage B", func() {
			Expect(os.Readlink(stager.Path(keyB))).To(Equal("/data/B"))
		})
	})

	Context("same date pair with a better coverage", func() {
		BeforeEach(func() {
			params.CoverageTh = 0.3
			metas.AddProduct("/data/D1", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/D1", constant(1), validRows(4))
			metas.AddProduct("/data/D2", "2", "2019-01-03T01:02:13Z", "2019-01-15T01:02:15Z", "S1B")
			rasters.AddProduct("/data/D2", constant(1), validRows(7))
			products = []string{"/data/D1", "/data/D2"}
		})

		It("should retain the second one", func() {
			Expect(selectErr).NotTo(HaveOccurred())
			Expect(stack.Len()).To(Equal(1))
			Expect(stack.Info[keyB].Product).To(Equal("/data/D2"))
			Expect(stack.Info[keyB].Platform).To(Equal("Sentinel-1B"))
			Expect(stack.Coverage[keyB]).To(Equal(0.7))
			Expect(stack.CenterLinesUTC).To(HaveLen(1))
			Expect(count(filter.OutcomeReplaced)).To(Equal(1.))
			Expect(os.Readlink(stager.Path(keyB))).To(Equal("/data/D2"))
		})

		Context("in reverse order", func() {
			BeforeEach(func() {
				products = []string{"/data/D2", "/data/D1"}
			})
			It("should retain the first one", func() {
				Expect(selectErr).NotTo(HaveOccurred())
				Expect(stack.Info[keyB].Product).To(Equal("/data/D2"))
				Expect(count(filter.OutcomeDuplicate)).To(Equal(1.))
				Expect(os.Readlink(stager.Path(keyB))).To(Equal("/data/D2"))
			})
		})
	})

	Context("stack sorted by date pair", func() {
		BeforeEach(func() {
			params.Subswath = ""
			metas.AddProduct("/data/E2", "3", "2019-01-15T01:02:03Z", "2019-01-27T01:02:05Z", "S1A")
			rasters.AddProduct("/data/E2", constant(1), validRows(10))
			metas.AddProduct("/data/E1", "1", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/E1", constant(1), validRows(10))
			products = []string{"/data/E2", "/data/E1"}
		})
		It("should iterate in ascending order", func() {
			Expect(selectErr).NotTo(HaveOccurred())
			Expect(stack.Keys()).To(Equal([]common.DateKey{keyB, common.NewDateKey("20190115", "20190127")}))
			Expect(stack.Ifgs()[0].Product).To(Equal("/data/E1"))
			Expect(stack.CenterLinesUTC[0].Before(stack.CenterLinesUTC[1])).To(BeTrue())
			intervals, err := stack.Intervals()
			Expect(err).NotTo(HaveOccurred())
			Expect(filter.Connected(filter.MergeIntervals(intervals))).To(BeTrue())
			dates, err := stack.AcquisitionDates()
			Expect(err).NotTo(HaveOccurred())
			Expect(dates).To(HaveLen(3))
		})
	})

	Context("unresolved sensor", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/F", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "")
			rasters.AddProduct("/data/F", constant(1), validRows(10))
			products = []string{"/data/F"}
		})
		It("should skip the product and fail with an empty stack", func() {
			Expect(count(filter.OutcomeUnknownSensor)).To(Equal(1.))
			Expect(errors.Is(selectErr, filter.ErrEmptyStack)).To(BeTrue())
			Expect(service.Fatal(selectErr)).To(BeTrue())
		})
	})

	Context("all products filtered out", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/G", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/G", constant(1), validRows(0))
			metas.AddProduct("/data/H", "1", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/H", constant(1), validRows(10))
			products = []string{"/data/G", "/data/H"}
		})
		It("should fail with an empty stack", func() {
			Expect(stack).To(BeNil())
			Expect(errors.Is(selectErr, filter.ErrEmptyStack)).To(BeTrue())
			Expect(service.Fatal(selectErr)).To(BeTrue())
			Expect(count(filter.OutcomeNoReferencePhase)).To(Equal(1.))
		})
	})

	Context("unknown sensor family", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/I", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "ALOS2")
			rasters.AddProduct("/data/I", constant(1), validRows(10))
			products = []string{"/data/I"}
		})
		It("should be fatal", func() {
			Expect(service.Fatal(selectErr)).To(BeTrue())
			Expect(errors.Is(selectErr, filter.ErrEmptyStack)).To(BeFalse())
		})
	})

	Context("malformed sensing date", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/J", "2", "20190103", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/J", constant(1), validRows(10))
			products = []string{"/data/J"}
		})
		It("should be fatal", func() {
			Expect(service.Fatal(selectErr)).To(BeTrue())
		})
	})

	Context("reference point outside of the rasters", func() {
		BeforeEach(func() {
			params.RefPoint.Lat = 5
			metas.AddProduct("/data/K", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			rasters.AddProduct("/data/K", constant(1), validRows(10))
			products = []string{"/data/K"}
		})
		It("should be fatal", func() {
			Expect(service.Fatal(selectErr)).To(BeTrue())
		})
	})

	Context("missing raster", func() {
		BeforeEach(func() {
			metas.AddProduct("/data/L", "2", "2019-01-03T01:02:03Z", "2019-01-15T01:02:05Z", "S1A")
			products = []string{"/data/L"}
		})
		It("should abort the run", func() {
			Expect(selectErr).To(HaveOccurred())
			Expect(service.Fatal(selectErr)).To(BeFalse())
		})
	})
})

var _ = Describe("Stack", func() {
	It("should be serialized", func() {
		s := filter.NewStack()
		key := common.NewDateKey("20190103", "20190115")
		s.Info[key] = filter.IfgInfo{Product: "/data/B", RXLim: [2]int{3, 5}, Platform: "Sentinel-1A"}
		s.Coverage[key] = 0.6
		s.CenterLinesUTC = []time.Time{time.Date(2019, 1, 3, 1, 2, 3, 0, time.UTC)}
		s.GeoTransform = gt
		file := filepath.Join(tempDir(), filter.StackFile)
		Expect(s.Write(file)).To(Succeed())

		loaded, err := filter.LoadStack(file)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Info).To(Equal(s.Info))
		Expect(loaded.Coverage).To(Equal(s.Coverage))
		Expect(loaded.GeoTransform).To(Equal(gt))
		first, last := loaded.SensingRange()
		Expect(first).To(Equal(last))
	})
})
