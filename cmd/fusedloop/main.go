// fusedloop compiles a fused elementwise loop from command-line flags, runs it over inputs
// filled with 1, 2, 3, ... and prints the loop nest and the outputs.
//
// Example: sum the rows of x + y, with y broadcast along axis 0:
//
//	fusedloop -op=add -dtype=float32 -shapes=3x4,1x4 -out=ft
package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/fusedloop/backends"
	_ "github.com/gomlx/fusedloop/backends/simplego"
	"github.com/gomlx/fusedloop/elementwise"
	"github.com/gomlx/fusedloop/types/arrays"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, e.g. \"go:max_bytes=1GiB\". Defaults to $%s, or the first registered backend.",
			backends.ConfigEnvVar))
	flagOp = flag.String("op", "add",
		fmt.Sprintf("Scalar function, one of %q.", elementwise.ScalarNames))
	flagDType  = flag.String("dtype", "float32", "DType of inputs and outputs.")
	flagShapes = flag.String("shapes", "3x4,1x4",
		"Comma-separated shapes of the inputs, with dimensions separated by 'x'. An empty shape is a scalar.")
	flagIn = flag.String("in", "",
		"Comma-separated broadcast patterns of the inputs, one letter per axis ('t' broadcast, 'f' not). "+
			"If empty, axes of dimension 1 are broadcast.")
	flagOut = flag.String("out", "",
		"Comma-separated broadcast patterns of the outputs. Outputs broadcast along the trailing axes are sums. "+
			"If empty, no output is broadcast.")
	flagInplace     = flag.String("inplace", "", "Comma-separated \"output:input\" pairs of outputs that reuse an input.")
	flagBoundsCheck = flag.Bool("boundscheck", false, "Check every element offset at run time.")
	flagRepeat      = flag.Int("repeat", 1, "Number of times to run the kernel. Results of every run are checked to be the same.")
	flagMaxValues   = flag.Int("max_values", 16, "Maximum number of values to print per output.")
	flagNoColor     = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if err := run(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run() error {
	var backend backends.Backend
	var err error
	if *flagBackend == "" {
		backend, err = backends.New()
	} else {
		backend, err = backends.NewWithConfig(*flagBackend)
	}
	if err != nil {
		return err
	}
	defer backend.Finalize()

	dtype, err := parseDType(*flagDType)
	if err != nil {
		return err
	}
	scalar, err := elementwise.ByName(*flagOp, dtype)
	if err != nil {
		return err
	}
	inputShapes, err := parseShapes(dtype, *flagShapes)
	if err != nil {
		return err
	}
	req := elementwise.Request{
		Name:        *flagOp,
		Scalar:      scalar,
		BoundsCheck: *flagBoundsCheck,
	}
	if req.InputPatterns, err = parsePatterns(*flagIn); err != nil {
		return err
	}
	if req.OutputPatterns, err = parsePatterns(*flagOut); err != nil {
		return err
	}
	if req.Inplace, err = parseInplace(*flagInplace); err != nil {
		return err
	}
	for _, shape := range inputShapes {
		input, err := backend.Allocate(shape)
		if err != nil {
			return errors.WithMessagef(err, "failed to allocate input %s", shape)
		}
		fillIota(input)
		req.Inputs = append(req.Inputs, input)
	}

	kernel, err := elementwise.Compile(backend, req)
	if err != nil {
		return err
	}
	start := time.Now()
	outputs, err := kernel.Run()
	if err != nil {
		return err
	}
	if *flagRepeat > 1 {
		if err := runRepeated(kernel, outputs, *flagRepeat-1); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	report(backend, kernel, outputs, elapsed)
	return nil
}

// runRepeated runs the kernel the given number of times more, with a progress bar, and checks that
// every run produces the same outputs as the first one.
func runRepeated(kernel *elementwise.Kernel, outputs []*arrays.Array, times int) error {
	checkResults := !kernel.Aliased
	if !checkResults {
		klog.Warningf("kernel %s reuses its inputs, results of repeated runs are not checked", kernel.ID)
	}
	first := make([]any, len(outputs))
	for k, output := range outputs {
		first[k] = output.Values()
	}

	term := termenv.NewOutput(os.Stderr)
	term.HideCursor()
	defer term.ShowCursor()
	bar := progressbar.NewOptions(times,
		progressbar.OptionSetDescription("Running"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	for ii := range times {
		runOutputs, err := kernel.Run()
		if err != nil {
			return err
		}
		// Only the outputs of the first run are kept: give back the references each extra run
		// hands over for the outputs reusing an input.
		for k, output := range runOutputs {
			if kernel.ReusesInput(k) {
				output.Release()
			}
		}
		if checkResults {
			for k, output := range outputs {
				if !reflect.DeepEqual(first[k], output.Values()) {
					return errors.Errorf("run #%d of kernel %s: output #%d differs from the first run", ii+2, kernel.ID, k)
				}
			}
		}
		_ = bar.Add(1)
	}
	return bar.Finish()
}

func report(backend backends.Backend, kernel *elementwise.Kernel, outputs []*arrays.Array, elapsed time.Duration) {
	fmt.Println(titleStyle.Render("Kernel"))
	table := newPlainTable(false)
	table.Row("id", kernel.ID)
	table.Row("backend", backend.Description())
	table.Row("scalar", kernel.Nest.Scalar.String())
	table.Row("iteration shape", fmt.Sprintf("%v", kernel.IterShape))
	iterSize := 1
	for _, dim := range kernel.IterShape {
		iterSize *= dim
	}
	table.Row("iterations", humanize.Comma(int64(iterSize)))
	table.Row("accumulators", humanize.Comma(int64(len(kernel.Nest.Accumulators))))
	table.Row("aliased", fmt.Sprintf("%v", kernel.Aliased))
	if attrs := kernel.Nest.OutputAttributes(); len(attrs) > 0 {
		table.Row("output attributes", strings.Join(attrs, ", "))
	}
	var outputBytes uintptr
	for _, output := range outputs {
		outputBytes += output.Shape().Memory()
	}
	table.Row("output bytes", humanize.IBytes(uint64(outputBytes)))
	runs := max(*flagRepeat, 1)
	table.Row("runs", humanize.Comma(int64(runs)))
	table.Row("time", elapsed.String())
	if seconds := elapsed.Seconds(); seconds > 0 {
		table.Row("throughput", humanize.SIWithDigits(float64(runs*iterSize)/seconds, 2, "iter/s"))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Loop nest"))
	fmt.Println(nestStyle.Render(strings.TrimRight(kernel.Nest.String(), "\n")))

	fmt.Println(titleStyle.Render("Outputs"))
	table = newPlainTable(true)
	table.Headers("#", "Shape", "Values")
	for k, output := range outputs {
		table.Row(fmt.Sprintf("%d", k), output.Shape().String(), formatValues(output, *flagMaxValues))
	}
	fmt.Println(table.Render())
}

// fillIota sets the elements of a freshly allocated array to 1, 2, ..., 16, 1, 2, ...
func fillIota(array *arrays.Array) {
	flat := reflect.ValueOf(array.Flat())
	elemType := flat.Type().Elem()
	for ii := range flat.Len() {
		value := float32(ii%16 + 1)
		var v reflect.Value
		switch array.DType() {
		case dtypes.Float16:
			v = reflect.ValueOf(float16.Fromfloat32(value))
		case dtypes.BFloat16:
			v = reflect.ValueOf(bfloat16.FromFloat32(value))
		case dtypes.Complex64, dtypes.Complex128:
			v = reflect.ValueOf(complex(float64(value), 0)).Convert(elemType)
		default:
			v = reflect.ValueOf(value).Convert(elemType)
		}
		flat.Index(ii).Set(v)
	}
}
