package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

func runProtocols(_ context.Context, e *env, args []string) error {
	fs := e.flagSet("protocols")
	length := fs.Int("length", 0, "also estimate the transmission time of a payload this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := e.codec.ToParameters()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	header := "ID\tNAME\tFREQ START\tFRAMES/TX\tBYTES/TX\tRATE"
	if *length > 0 {
		header += "\tDURATION"
	}
	fmt.Fprintln(tw, header)
	for _, p := range ggwave.BuiltinProtocols() {
		t, _ := p.Timing()
		line := fmt.Sprintf("%d\t%s\t%d\t%d\t%d\t%.0f", p, p, t.FreqStart, t.FramesPerTx, t.BytesPerTx, p.RecommendedSampleRate())
		if *length > 0 {
			d, err := ggwave.EstimateDuration(params, p, *length)
			if err != nil {
				return err
			}
			line += "\t" + d.Round(time.Millisecond).String()
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}
