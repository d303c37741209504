package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/constraintcore/solver/body"
	"github.com/constraintcore/solver/bundle"
	"github.com/constraintcore/solver/handle"
	"github.com/constraintcore/solver/joints"
	"github.com/constraintcore/solver/mathx"
)

func newBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time stepping a chain scene and report throughput",
		RunE:  runBench,
	}
	stepFlags(cmd)
	cmd.Flags().Int("bodies", 1024, "Number of dynamic bodies in the scene")
	return cmd
}

// runBench builds one long ball-socket chain: every body hangs from the
// previous one, so the batch builder has to spread the constraints across
// batches (consecutive links share a body) and the sub-stepping driver's
// integration-responsibility machinery gets exercised at scale.
func runBench(cmd *cobra.Command, args []string) error {
	p := readStepParams(cmd)
	count, _ := cmd.Flags().GetInt("bodies")
	if count < 2 {
		count = 2
	}

	s := newSolver(p, mathx.Vec3{Y: -10})
	prev := s.AddBody(body.Description{Orientation: mathx.Identity}) // static root
	for i := 1; i < count; i++ {
		b := s.AddBody(body.Description{
			Position:            mathx.Vec3{Y: float32(-i)},
			Orientation:         mathx.Identity,
			InverseMass:         1,
			LocalInverseInertia: identityInertia(),
		})
		s.AddConstraint(typeBallSocket, []handle.Handle{prev, b}, joints.BallSocketDescription{
			LocalOffsetB: mathx.Vec3{Y: 1},
		})
		prev = b
	}

	disp, closeDisp := dispatcherFor(p)
	defer closeDisp()

	simd := "no simd"
	if bundle.HasSIMD() {
		simd = bundle.CurrentName()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bundle: %d-byte registers (%s), %d float32 lanes\n",
		bundle.CurrentWidth(), simd, s.Width())

	start := time.Now()
	for f := 0; f < p.frames; f++ {
		s.Step(p.dt, p.substeps, disp)
	}
	elapsed := time.Since(start)

	perStep := elapsed / time.Duration(p.frames)
	fmt.Fprintf(cmd.OutOrStdout(), "%d bodies, %d frames, %d substeps x %d iterations: %v total, %v/frame (%.1f fps)\n",
		count, p.frames, p.substeps, p.iterations, elapsed.Round(time.Microsecond), perStep.Round(time.Microsecond),
		float64(time.Second)/float64(perStep))
	return nil
}
