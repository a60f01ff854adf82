package linkage_test

import (
	"bytes"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/akmonengine/linkage"
	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/function"
	"github.com/akmonengine/linkage/peridynamics"
	"github.com/akmonengine/linkage/solver"
	"github.com/go-gl/mathgl/mgl64"
)

func newShaft(inertia float64) *actor.Shaft {
	s, err := actor.NewShaft(inertia)
	Expect(err).NotTo(HaveOccurred())
	return s
}

func directSettings() solver.Settings {
	settings := solver.DefaultSettings()
	settings.Type = solver.Direct
	settings.Mode = solver.ModeBilateral
	return settings
}

func stepN(s *linkage.System, n int, dt float64) {
	for i := 0; i < n; i++ {
		Expect(s.Step(dt)).To(Succeed())
	}
}

// lockedShafts couples two free shafts with a motor that holds their
// relative angle at zero, and drives the first one with a constant torque.
func lockedShafts() (*linkage.System, *actor.Shaft, *actor.Shaft, *constraint.ShaftsMotorAngle) {
	s := linkage.NewSystem()
	s.SetSolver(directSettings())

	a, b := newShaft(2), newShaft(3)
	Expect(s.AddShaft(a)).To(Succeed())
	Expect(s.AddShaft(b)).To(Succeed())
	a.SetAppliedTorque(10)

	motor, err := constraint.NewShaftsMotorAngle(a, b)
	Expect(err).NotTo(HaveOccurred())
	motor.Function = function.Const{}
	Expect(s.AddLink(motor)).To(Succeed())
	return s, a, b, motor
}

var _ = Describe("System", func() {
	const dt = 0.01

	Describe("registration", func() {
		It("rejects links to entities it does not own", func() {
			s := linkage.NewSystem()
			a, b := newShaft(1), newShaft(1)
			Expect(s.AddShaft(a)).To(Succeed())

			motor, err := constraint.NewShaftsMotorAngle(a, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(s.AddLink(motor), constraint.ErrForeignVariables)).To(BeTrue())
		})

		It("rejects duplicates", func() {
			s := linkage.NewSystem()
			a := newShaft(1)
			Expect(s.AddShaft(a)).To(Succeed())
			Expect(errors.Is(s.AddShaft(a), linkage.ErrDuplicate)).To(BeTrue())
		})

		It("removes the links of a removed shaft", func() {
			s, a, _, _ := lockedShafts()
			s.RemoveShaft(a)
			Expect(s.Links).To(BeEmpty())
			Expect(s.Step(dt)).To(Succeed())
		})

		It("assigns offsets in registration order", func() {
			s := linkage.NewSystem()
			body, err := actor.NewRigidBody(actor.NewTransform(), &actor.Sphere{Radius: 1}, actor.BodyTypeDynamic, 1)
			Expect(err).NotTo(HaveOccurred())
			shaft := newShaft(1)
			Expect(s.AddShaft(shaft)).To(Succeed())
			Expect(s.AddBody(body)).To(Succeed())
			Expect(s.Setup()).To(Succeed())

			Expect(body.OffsetX()).To(Equal(0))
			Expect(body.OffsetW()).To(Equal(0))
			Expect(shaft.OffsetX()).To(Equal(7))
			Expect(shaft.OffsetW()).To(Equal(6))
			Expect(s.NumCoordsPos()).To(Equal(8))
			Expect(s.NumCoordsVel()).To(Equal(7))
		})
	})

	Describe("Step", func() {
		It("rejects a non positive time step", func() {
			s := linkage.NewSystem()
			for _, bad := range []float64{0, -dt, math.NaN(), math.Inf(1)} {
				err := s.Step(bad)
				var stepErr *linkage.StepError
				Expect(errors.As(err, &stepErr)).To(BeTrue())
				Expect(errors.Is(err, linkage.ErrInvalidStep)).To(BeTrue())
			}
		})

		It("applies free flight without constraints", func() {
			s := linkage.NewSystem()
			shaft := newShaft(2)
			shaft.SetAppliedTorque(4)
			Expect(s.AddShaft(shaft)).To(Succeed())

			stepN(s, 100, dt)
			Expect(shaft.Speed).To(BeNumerically("~", 2.0, 1e-9))
			Expect(s.Time()).To(BeNumerically("~", 1.0, 1e-9))
			Expect(s.Report().Stages).To(BeEmpty())
		})
	})

	Describe("angle motor", func() {
		It("tracks a unit ramp against a fixed shaft", func() {
			s := linkage.NewSystem()
			s.SetSolver(directSettings())
			free, frame := newShaft(1), newShaft(1)
			frame.SetFixed(true)
			Expect(s.AddShaft(free)).To(Succeed())
			Expect(s.AddShaft(frame)).To(Succeed())

			motor, err := constraint.NewShaftsMotorAngle(free, frame)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.AddLink(motor)).To(Succeed())

			stepN(s, 100, dt)
			Expect(free.Pos).To(BeNumerically("~", 1.0, 1e-9))
			Expect(free.Speed).To(BeNumerically("~", 1.0, 1e-9))
			Expect(frame.Pos).To(BeNumerically("==", 0))
			Expect(motor.MotorTorque()).To(BeNumerically("~", 0, 1e-6))
			Expect(s.MaxViolation()).To(BeNumerically("<", 1e-9))
			Expect(s.Report().Converged()).To(BeTrue())
		})
	})

	Describe("locked shafts", func() {
		It("accelerate together at torque over total inertia", func() {
			s, a, b, motor := lockedShafts()

			stepN(s, 50, dt)
			// α = 10 / (2 + 3)
			Expect(a.Speed).To(BeNumerically("~", 1.0, 1e-9))
			Expect(b.Speed).To(BeNumerically("~", a.Speed, 1e-12))
			// the motor takes from A what B needs: 3 * α
			Expect(motor.MotorTorque()).To(BeNumerically("~", -6.0, 1e-6))
			Expect(s.KineticEnergy()).To(BeNumerically("~", 0.5*5*1.0, 1e-6))
		})

		It("break once the reaction exceeds the limit", func() {
			s, a, b, motor := lockedShafts()
			motor.BreakForce = 5

			var broken []constraint.Link
			s.Events.Subscribe(linkage.LINK_BROKEN, func(e linkage.Event) {
				broken = append(broken, e.(linkage.LinkBrokenEvent).Link)
			})

			stepN(s, 1, dt)
			Expect(motor.State()).To(Equal(constraint.Broken))
			Expect(broken).To(HaveLen(1))
			Expect(broken[0]).To(BeIdenticalTo(motor))
			Expect(errors.Is(motor.Enable(), constraint.ErrBroken)).To(BeTrue())

			speedB := b.Speed
			stepN(s, 10, dt)
			Expect(b.Speed).To(BeNumerically("~", speedB, 1e-12))
			Expect(a.Speed).To(BeNumerically(">", b.Speed))
			Expect(broken).To(HaveLen(1))
		})
	})

	Describe("sleeping", func() {
		It("puts a still shaft to sleep and wakes it on torque", func() {
			s := linkage.NewSystem()
			shaft := newShaft(1)
			shaft.SetUseSleeping(true)
			Expect(s.AddShaft(shaft)).To(Succeed())

			var events []linkage.EventType
			record := func(e linkage.Event) { events = append(events, e.Type()) }
			s.Events.Subscribe(linkage.ON_SLEEP, record)
			s.Events.Subscribe(linkage.ON_WAKE, record)

			stepN(s, 70, dt)
			Expect(shaft.IsSleeping()).To(BeTrue())
			Expect(s.SleepingCount()).To(Equal(1))
			Expect(events).To(Equal([]linkage.EventType{linkage.ON_SLEEP}))

			shaft.SetAppliedTorque(1)
			stepN(s, 1, dt)
			Expect(shaft.IsSleeping()).To(BeFalse())
			Expect(shaft.Speed).To(BeNumerically("~", dt, 1e-12))
			Expect(events).To(Equal([]linkage.EventType{linkage.ON_SLEEP, linkage.ON_WAKE}))
		})

		It("keeps a slow shaft awake while it is geared to a moving one", func() {
			s := linkage.NewSystem()
			s.SetSolver(directSettings())
			fast, slow := newShaft(1), newShaft(1)
			fast.SetUseSleeping(true)
			slow.SetUseSleeping(true)
			fast.Speed = 1
			Expect(s.AddShaft(fast)).To(Succeed())
			Expect(s.AddShaft(slow)).To(Succeed())

			gear, err := constraint.NewShaftsGear(fast, slow, 0.01)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.AddLink(gear)).To(Succeed())

			stepN(s, 100, dt)
			Expect(slow.SleepState()).To(Equal(actor.CouldSleep))
			Expect(slow.IsSleeping()).To(BeFalse())
			Expect(slow.Speed).To(BeNumerically("~", 0.01*fast.Speed, 1e-9))
		})
	})

	Describe("contacts", func() {
		It("rests a dropped sphere on the ground plane", func() {
			s := linkage.NewSystem()
			settings := solver.DefaultSettings()
			settings.Mode = solver.ModeNormal
			s.SetSolver(settings)
			s.SetCollision(linkage.NewGridCollision(1, 256))

			ground, err := actor.NewRigidBody(actor.NewTransform(), &actor.Plane{Normal: mgl64.Vec3{0, 0, 1}}, actor.BodyTypeStatic, 0)
			Expect(err).NotTo(HaveOccurred())
			start := actor.NewTransform()
			start.Position = mgl64.Vec3{0, 0, 1}
			ball, err := actor.NewRigidBody(start, &actor.Sphere{Radius: 0.5}, actor.BodyTypeDynamic, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.AddBody(ground)).To(Succeed())
			Expect(s.AddBody(ball)).To(Succeed())

			enter := 0
			s.Events.Subscribe(linkage.COLLISION_ENTER, func(linkage.Event) { enter++ })

			stepN(s, 200, dt)
			Expect(ball.Transform.Position.Z()).To(BeNumerically("~", 0.5, 0.01))
			Expect(ball.Velocity.Len()).To(BeNumerically("<", 0.05))
			Expect(ground.Transform.Position).To(Equal(mgl64.Vec3{}))
			Expect(s.Contacts()).To(HaveLen(1))
			Expect(s.Contacts()[0].NormalForce()).To(BeNumerically("~", ball.Mass()*9.81, 0.05*ball.Mass()*9.81))
			Expect(enter).To(BeNumerically(">=", 1))
		})
	})

	Describe("continuum matter", func() {
		It("holds an anchored block under gravity", func() {
			s := linkage.NewSystem()
			s.SetSolver(directSettings())

			material := peridynamics.DefaultVonMises()
			material.YoungModulus = 1e5
			block := peridynamics.NewMatter(material, 0)
			Expect(peridynamics.FillBox(block, peridynamics.BoxFill{Size: mgl64.Vec3{0.3, 0.3, 0.3}, Spacing: 0.1})).To(Succeed())
			for i, n := range block.Nodes() {
				if n.Pos.Z() > 0.05 {
					_, err := block.Anchor(i)
					Expect(err).NotTo(HaveOccurred())
				}
			}
			Expect(block.Anchors()).To(HaveLen(9))
			Expect(s.AddMatter(block)).To(Succeed())

			stepN(s, 20, 1e-4)
			Expect(s.MaxViolation()).To(BeNumerically("<", 1e-9))
			for _, n := range block.Nodes() {
				if n.Pos.Z() < -0.05 {
					Expect(n.Pos.Z()).To(BeNumerically("<", n.X0.Z()))
				}
			}
			for _, a := range block.Anchors() {
				Expect(a.Reaction().Z()).To(BeNumerically(">", 0))
			}
		})

		It("sets up again when a registered matter grows", func() {
			s := linkage.NewSystem()
			grain := peridynamics.NewMatter(peridynamics.DefaultVonMises(), 0.1)
			_, err := grain.AddNode(mgl64.Vec3{}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.AddMatter(grain)).To(Succeed())
			Expect(s.Step(dt)).To(Succeed())

			_, err = grain.AddNode(mgl64.Vec3{1, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Step(dt)).To(Succeed())

			x, v, err := s.State()
			Expect(err).NotTo(HaveOccurred())
			Expect(x).To(HaveLen(6))
			Expect(v).To(HaveLen(6))
			Expect(grain.Node(0).Vel.Z()).To(BeNumerically("~", -2*9.81*dt, 1e-12))
			Expect(grain.Node(1).Vel.Z()).To(BeNumerically("~", -9.81*dt, 1e-12))
		})
	})

	Describe("archive", func() {
		It("round trips and keeps stepping identically", func() {
			s, a, _, _ := lockedShafts()
			stepN(s, 10, dt)

			var buf bytes.Buffer
			Expect(s.ArchiveOut(&buf)).To(Succeed())
			restored, err := linkage.NewSystemFromArchive(&buf)
			Expect(err).NotTo(HaveOccurred())

			Expect(restored.Shafts).To(HaveLen(2))
			Expect(restored.Links).To(HaveLen(1))
			Expect(restored.Time()).To(BeNumerically("~", s.Time(), 1e-15))
			Expect(restored.Solver.Type).To(Equal(solver.Direct))

			stepN(s, 10, dt)
			stepN(restored, 10, dt)
			Expect(restored.Shafts[0].Pos).To(BeNumerically("~", a.Pos, 1e-12))
			Expect(restored.Shafts[0].Speed).To(BeNumerically("~", a.Speed, 1e-12))
			Expect(restored.Shafts[1].Speed).To(BeNumerically("~", restored.Shafts[0].Speed, 1e-12))
		})
	})
})
