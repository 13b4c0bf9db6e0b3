// dcminfo prints the decode session of a DICOM file and optionally times the
// decode of every frame.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llehouerou/dcmview/internal/dicom"
	"github.com/llehouerou/dcmview/internal/errmsg"
	"github.com/llehouerou/dcmview/internal/logging"
)

func main() {
	decode := flag.Bool("decode", false, "Decode every frame and report timings")
	generic := flag.Bool("generic", false, "Disable the accelerated backend")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-decode] [-generic] FILE\n", os.Args[0])
		os.Exit(2)
	}

	log := logging.New(os.Stderr, slog.LevelWarn)
	if err := run(os.Stdout, flag.Arg(0), *decode, *generic, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, path string, decode, generic bool, log *slog.Logger) error {
	dec := dicom.New(dicom.Options{DisableAcceleration: generic, Logger: log})
	defer dec.Close()

	start := time.Now()
	s, err := dec.Load(path)
	if err != nil {
		return errors.New(errmsg.FormatWith(errmsg.OpFileLoad, path, err))
	}
	loadTime := time.Since(start)

	printSession(out, s, dec.PreDecoded(), loadTime)
	if !decode {
		return nil
	}

	var total time.Duration
	var slowest time.Duration
	failed := 0
	for i := range s.TotalFrames {
		t := time.Now()
		if _, err := dec.DecodeFrame(i); err != nil {
			failed++
			log.Warn(errmsg.Format(errmsg.OpFrameDecode, err))
			continue
		}
		d := time.Since(t)
		total += d
		slowest = max(slowest, d)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Decoded\t%d/%d\n", s.TotalFrames-failed, s.TotalFrames)
	fmt.Fprintf(w, "Decode time\t%s\n", total.Round(time.Microsecond))
	if n := s.TotalFrames - failed; n > 0 {
		fmt.Fprintf(w, "Per frame\t%s (slowest %s)\n",
			(total / time.Duration(n)).Round(time.Microsecond), slowest.Round(time.Microsecond))
	}
	return w.Flush()
}

func printSession(out io.Writer, s *dicom.Session, predecoded bool, loadTime time.Duration) {
	interval, fromFile := s.FrameInterval()
	timing := "modality default"
	if fromFile {
		timing = "file"
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "File\t%s\n", s.Path)
	fmt.Fprintf(w, "Patient\t%s (%s)\n", s.Identity.PatientName, s.Identity.PatientID)
	fmt.Fprintf(w, "Study\t%s\n", s.Identity.StudyDescription)
	fmt.Fprintf(w, "Series\t%s\n", s.Identity.SeriesDescription)
	fmt.Fprintf(w, "Modality\t%s\n", s.Identity.Modality)
	fmt.Fprintf(w, "Frames\t%d\n", s.TotalFrames)
	fmt.Fprintf(w, "Size\t%dx%d, %d of %d bits, %d samples, %s\n",
		s.Columns, s.Rows, s.BitsStored, s.BitsAllocated, s.SamplesPerPixel, s.Photometric)
	fmt.Fprintf(w, "Frame memory\t%s\n", humanize.IBytes(uint64(s.FrameBytes()))) //nolint:gosec // never negative
	fmt.Fprintf(w, "Window\tC %g W %g\n", s.WindowCenter, s.WindowWidth)
	fmt.Fprintf(w, "Rescale\tslope %g intercept %g\n", s.RescaleSlope, s.RescaleIntercept)
	fmt.Fprintf(w, "Transfer syntax\t%s (decodable: %t)\n", s.TransferSyntax, dicom.Decodable(s.TransferSyntax))
	fmt.Fprintf(w, "Backend\t%s (pre-decoded: %t)\n", s.Backend, predecoded)
	fmt.Fprintf(w, "Interval\t%s (%s)\n", interval, timing)
	fmt.Fprintf(w, "Load time\t%s\n", loadTime.Round(time.Microsecond))
	_ = w.Flush()
}
