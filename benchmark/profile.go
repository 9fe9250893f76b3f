package benchmark

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/fogfactory/flume"
	"github.com/fogfactory/flume/mem"
)

// Profile generates a CPU profile of a prefetched pipeline. It will be
// outputted as flume_{date}_n{items}_w{workers}_c{capacity}.prof.
//
// - items Number of records pushed through the pipeline.
// - workers Stage worker count.
// - capacity Staging buffer capacity.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(items, workers, capacity int) {
	// Profile file
	f, err := os.Create(fmt.Sprintf("flume_%s_n%d_w%d_c%d.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		items, workers, capacity))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx := context.Background()
	work := func(i int) int { time.Sleep(time.Millisecond); return i * i }
	p := flume.From[int](mem.New(lo.Range(items))).
		Map(work).
		Prefetch(capacity, flume.Workers(workers))

	// Start profiling
	func() {
		_ = pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()

		start := time.Now()
		if _, err := p.Collect(ctx); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Printf("(par: %s)\n", time.Since(start))
	}()

	// linear processing equivalent
	start := time.Now()
	for _, i := range lo.Range(items) {
		work(i)
	}
	fmt.Printf("(seq: %s)\n", time.Since(start))
	fmt.Printf("profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
	// On all files
	// source <(ls | grep .prof | nl | awk '{print "pprof -http=:"$1 + 8080, $2,$3,"&"}')
}
