package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ckv/cmd/util"
	"github.com/ValentinKolb/ckv/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for ckv nodes",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// benchmark is one perf test. setup runs before the timer starts, op is the
// measured operation on the i-th key.
type benchmark struct {
	name  string
	setup func(ctx context.Context, keys []string)
	op    func(ctx context.Context, i int, key string) error
}

// result combines the testing.Benchmark totals and the per operation
// latency distribution.
type result struct {
	bench  testing.BenchmarkResult
	timer  gometrics.Timer
	errors gometrics.Counter
}

func fill(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := rpcStore.Set(ctx, k, []byte("test")); err != nil {
			log.Printf("error setting key %s: %v\n", k, err)
		}
	}
}

func benchmarks() []benchmark {
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	return []benchmark{
		{"set", nil, func(ctx context.Context, _ int, k string) error {
			return rpcStore.Set(ctx, k, []byte("test"))
		}},
		{"set-large", nil, func(ctx context.Context, _ int, k string) error {
			return rpcStore.Set(ctx, k, largeValue)
		}},
		{"get", fill, func(ctx context.Context, _ int, k string) error {
			_, _, err := rpcStore.Get(ctx, k)
			return err
		}},
		{"delete", fill, func(ctx context.Context, _ int, k string) error {
			return rpcStore.Delete(ctx, k)
		}},
		{"has", fill, func(ctx context.Context, _ int, k string) error {
			_, err := rpcStore.Has(ctx, k)
			return err
		}},
		{"has-not", nil, func(ctx context.Context, _ int, k string) error {
			_, err := rpcStore.Has(ctx, k)
			return err
		}},
		{"mixed", fill, func(ctx context.Context, i int, k string) error {
			var err error
			switch i % 4 {
			case 0:
				err = rpcStore.Set(ctx, k, []byte("test"))
			case 1:
				_, _, err = rpcStore.Get(ctx, k)
			case 2:
				err = rpcStore.Delete(ctx, k)
			case 3:
				_, err = rpcStore.Has(ctx, k)
			}
			return err
		}},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Println("Performance testing tool for ckv nodes")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	results := make(map[string]result)
	var order []string

	for _, bm := range benchmarks() {
		if shouldSkip(bm.name) {
			printSkipped(bm.name)
			continue
		}
		res := result{
			timer:  gometrics.NewTimer(),
			errors: gometrics.NewCounter(),
		}

		keys := getKeys(bm.name)
		res.bench = testing.Benchmark(func(b *testing.B) {
			if bm.setup != nil {
				bm.setup(ctx, keys)
			}
			b.Cleanup(func() {
				for _, k := range keys {
					if err := rpcStore.Delete(ctx, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
					}
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					start := time.Now()
					err := bm.op(ctx, counter, keys[counter%len(keys)])
					res.timer.UpdateSince(start)
					if err != nil {
						res.errors.Inc(1)
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = res
		order = append(order, bm.name)
		printResult(bm.name, res)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of one benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

func printSkipped(test string) {
	fmt.Printf("%-20sskipped\n", test)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, res result) {
	nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := res.timer.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\terrors %d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), res.errors.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]result, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Errors",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range order {
		res := results[test]
		nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1)
		ps := res.timer.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			time.Duration(ps[0]).String(),
			time.Duration(ps[1]).String(),
			strconv.FormatInt(res.errors.Count(), 10),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
