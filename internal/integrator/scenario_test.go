package integrator_test

import (
	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/integrator"
	"github.com/san-kum/dynbarrier/internal/scene"
)

// contactGap is the feasibility gap of the last candidate of a scene.
func contactGap(sc *scene.Scene) float64 {
	last := sc.System.Candidates[len(sc.System.Candidates)-1]
	g, err := last.Candidate.Gap(sc.System.Positions)
	Expect(err).NotTo(HaveOccurred())
	return g
}

var _ = Describe("Step", func() {
	var (
		registry *scene.Registry
		set      dynamo.Settings
		in       *integrator.Integrator
	)

	BeforeEach(func() {
		registry = scene.NewRegistry()
		set = dynamo.DefaultSettings()
		in = integrator.New()
	})

	run := func(sc *scene.Scene, ticks int, each func(*integrator.Report)) {
		for tick := 0; tick < ticks; tick++ {
			report, err := in.Step(sc.System, dynamo.Context{Time: float64(tick) * set.Dt})
			Expect(err).NotTo(HaveOccurred())
			if each != nil {
				each(report)
			}
		}
	}

	Context("when a strip is dropped onto the floor", func() {
		DescribeTable("never penetrates",
			func(margin, speed float64) {
				set.Margin = margin
				sc, err := registry.Build("drop", scene.Params{"speed": speed, "height": 0.1}, set)
				Expect(err).NotTo(HaveOccurred())

				run(sc, 60, func(r *integrator.Report) {
					Expect(r.Unresolved).To(BeEmpty())
					for _, x := range sc.System.Positions {
						Expect(x[2]).To(BeNumerically(">=", 0))
					}
				})
			},
			Entry("at rest, no margin", 1.0, 0.0),
			Entry("fast, default margin", 1.25, 8.0),
			Entry("fast, wide margin", 2.0, 8.0),
		)

		It("comes to rest inside the barrier band", func() {
			sc, err := registry.Build("drop", scene.Params{"height": 0.05}, set)
			Expect(err).NotTo(HaveOccurred())
			run(sc, 120, nil)
			for _, x := range sc.System.Positions {
				Expect(x[2]).To(BeNumerically("<", 0.02))
				Expect(x[2]).To(BeNumerically(">=", 0))
			}
		})
	})

	Context("with no active constraints", func() {
		It("lands exactly on the inertial prediction", func() {
			sc, err := registry.Build("drop", scene.Params{"nodes": 1, "height": 10, "speed": 1}, set)
			Expect(err).NotTo(HaveOccurred())
			sc.System.Candidates = nil
			x0, v0 := sc.System.Positions[0], sc.System.Velocities[0]

			run(sc, 1, func(r *integrator.Report) {
				Expect(r.Converged).To(BeTrue())
				Expect(r.ActiveConstraints).To(BeZero())
			})
			want := x0.Add(v0.Mul(set.Dt)).Add(set.Gravity.Mul(set.Dt * set.Dt))
			Expect(sc.System.Positions[0].ApproxEqualThreshold(want, 1e-9)).To(BeTrue())
		})
	})

	Context("when a node falls onto a pinned triangle", func() {
		It("stays above the triangle plane", func() {
			sc, err := registry.Build("collide", scene.Params{"speed": 4, "height": 0.05}, set)
			Expect(err).NotTo(HaveOccurred())
			run(sc, 60, func(r *integrator.Report) {
				Expect(r.Unresolved).To(BeEmpty())
				Expect(contactGap(sc)).To(BeNumerically(">", 0))
			})
			Expect(sc.System.Positions[3][2]).To(BeNumerically(">", 0))
		})
	})

	Context("when an edge falls across a pinned edge", func() {
		It("does not tunnel through", func() {
			sc, err := registry.Build("cross", scene.Params{"speed": 4, "height": 0.05}, set)
			Expect(err).NotTo(HaveOccurred())
			run(sc, 60, func(r *integrator.Report) {
				Expect(r.Unresolved).To(BeEmpty())
				Expect(contactGap(sc)).To(BeNumerically(">", 0))
			})
		})
	})

	Context("when a cloth hangs from two corners", func() {
		It("reports every tick and keeps the pins", func() {
			sc, err := registry.Build("sheet", scene.Params{"nx": 3, "ny": 3}, set)
			Expect(err).NotTo(HaveOccurred())
			pinned := sc.System.Positions[0]
			run(sc, 20, func(r *integrator.Report) {
				Expect(r.NewtonIterations).To(BeNumerically(">", 0))
				Expect(r.Beta).To(BeNumerically("<=", 1))
				Expect(r.ActiveConstraints).To(BeNumerically("<=", len(sc.System.Candidates)))
			})
			Expect(sc.System.Positions[0].Sub(pinned).Len()).To(BeNumerically("<=", 0.001+1e-12))
			Expect(sc.System.Positions[len(sc.System.Positions)-1][2]).To(BeNumerically("<", 0))
		})
	})

	It("keeps stiffness memory across ticks", func() {
		sc, err := registry.Build("drop", scene.Params{"nodes": 1, "height": 0.01}, set)
		Expect(err).NotTo(HaveOccurred())
		run(sc, 3, nil)
		Expect(in.Ticks()).To(Equal(3))
		Expect(in.Schedule().Len()).To(Equal(1))
	})

	It("rejects a system whose velocities are missing", func() {
		sys := &integrator.System{
			Positions: []mgl64.Vec3{{}},
			Masses:    []float64{1},
			Settings:  set,
		}
		_, err := in.Step(sys, dynamo.Context{})
		Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
	})
})
