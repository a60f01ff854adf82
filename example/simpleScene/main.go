package main

import (
	"fmt"
	"os"

	"github.com/akmonengine/linkage"
	"github.com/akmonengine/linkage/actor"
	"github.com/akmonengine/linkage/constraint"
	"github.com/akmonengine/linkage/function"
	"github.com/go-gl/mathgl/mgl64"
)

// SetupScene creates a cube falling on a plane, and a motor spinning a
// flywheel against a fixed frame.
func SetupScene() (*linkage.System, *actor.RigidBody, *actor.Shaft, error) {
	system := linkage.NewSystem()
	system.SetCollision(linkage.NewGridCollision(2, 256))

	// Ground plane (z=0)
	planeBody, err := actor.NewRigidBody(actor.NewTransform(), &actor.Plane{Normal: mgl64.Vec3{0, 0, 1}}, actor.BodyTypeStatic, 0)
	if err != nil {
		return nil, nil, nil, err
	}

	cubeTransform := actor.Transform{
		Position: mgl64.Vec3{0, 0, 3},
		Rotation: mgl64.QuatRotate(0.3, mgl64.Vec3{1, 1, 0}.Normalize()),
	}
	cubeBody, err := actor.NewRigidBody(cubeTransform, &actor.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}, actor.BodyTypeDynamic, 1000)
	if err != nil {
		return nil, nil, nil, err
	}
	cubeBody.Material.Friction = 0.5
	cubeBody.SetUseSleeping(true)

	for _, b := range []*actor.RigidBody{planeBody, cubeBody} {
		if err := system.AddBody(b); err != nil {
			return nil, nil, nil, err
		}
	}

	frame, err := actor.NewShaft(1)
	if err != nil {
		return nil, nil, nil, err
	}
	frame.SetFixed(true)
	flywheel, err := actor.NewShaft(2)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, s := range []*actor.Shaft{flywheel, frame} {
		if err := system.AddShaft(s); err != nil {
			return nil, nil, nil, err
		}
	}

	motor, err := constraint.NewShaftsMotorAngle(flywheel, frame)
	if err != nil {
		return nil, nil, nil, err
	}
	motor.Function = function.Ramp{Slope: 2}
	if err := system.AddLink(motor); err != nil {
		return nil, nil, nil, err
	}

	return system, cubeBody, flywheel, nil
}

func main() {
	system, cube, flywheel, err := SetupScene()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	system.Events.Subscribe(linkage.COLLISION_ENTER, func(e linkage.Event) {
		fmt.Printf("t=%.3f contact enter\n", system.Time())
	})
	system.Events.Subscribe(linkage.ON_SLEEP, func(e linkage.Event) {
		fmt.Printf("t=%.3f cube asleep\n", system.Time())
	})

	const dt float64 = 1.0 / 100.0
	const maxSteps int = 300

	for step := 0; step < maxSteps; step++ {
		if err := system.Step(dt); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if step%25 == 0 {
			fmt.Printf("step %3d  cube z=%.4f vz=%+.4f  flywheel θ=%.4f ω=%.4f  iterations=%d\n",
				step,
				cube.Transform.Position.Z(),
				cube.Velocity.Z(),
				flywheel.Pos,
				flywheel.Speed,
				system.Report().Iterations(),
			)
		}
	}
}
