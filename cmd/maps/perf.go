package maps

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/scoll/cmd/util"
	"github.com/ValentinKolb/scoll/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for scoll servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfMapName          = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "map"
	perfTestCmd.Flags().String(key, "__perf", util.WrapString("Name of the map used for the tests. The map is destroyed afterwards"))
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
	perfMapName = viper.GetString("map")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// perfResult is the result of one benchmark
type perfResult struct {
	name    string
	bench   testing.BenchmarkResult
	latency gometrics.Timer
	errors  gometrics.Counter
}

// perfTest describes one benchmark. setup runs before the timer starts, op is called in parallel.
type perfTest struct {
	name  string
	setup func(keys []string)
	op    func(i int, keys []string) error
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for scoll servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Map:     %s\n", perfMapName)
	fmt.Println()

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(keys []string) {
		for _, k := range keys {
			if _, _, err := mapClient.Put(perfMapName, k, []byte("test")); err != nil {
				log.Printf("error setting key %s: %v\n", k, err)
			}
		}
	}

	tests := []perfTest{
		{name: "put", op: func(i int, keys []string) error {
			_, _, err := mapClient.Put(perfMapName, keys[i%len(keys)], []byte("test"))
			return err
		}},
		{name: "put-large", op: func(i int, keys []string) error {
			_, _, err := mapClient.Put(perfMapName, keys[i%len(keys)], largeValue)
			return err
		}},
		{name: "get", setup: fill, op: func(i int, keys []string) error {
			_, _, err := mapClient.Get(perfMapName, keys[i%len(keys)])
			return err
		}},
		{name: "has-not", op: func(i int, _ []string) error {
			_, err := mapClient.Has(perfMapName, fmt.Sprintf("has-not-%d", i%100))
			return err
		}},
		{name: "delete", setup: fill, op: func(i int, keys []string) error {
			_, _, err := mapClient.Delete(perfMapName, keys[i%len(keys)])
			return err
		}},
		{name: "mixed", setup: fill, op: func(i int, keys []string) error {
			key := keys[i%len(keys)]
			var err error
			switch i % 4 {
			case 0:
				_, _, err = mapClient.Put(perfMapName, key, []byte("test"))
			case 1:
				_, err = mapClient.Has(perfMapName, key)
			case 2:
				_, _, err = mapClient.Get(perfMapName, key)
			default:
				_, _, err = mapClient.Delete(perfMapName, key)
			}
			return err
		}},
		{name: "list", setup: fill, op: func(_ int, _ []string) error {
			_, _, err := mapClient.List(perfMapName, "", 100)
			return err
		}},
	}

	fmt.Println("starting tests...")
	results := make([]perfResult, 0, len(tests))
	for _, test := range tests {
		res := runPerfTest(test)
		results = append(results, res)
		printResult(res)
	}

	if err := mapClient.Destroy(perfMapName); err != nil {
		log.Printf("error destroying map %s: %v\n", perfMapName, err)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

func runPerfTest(test perfTest) perfResult {
	res := perfResult{
		name:    test.name,
		latency: gometrics.NewTimer(),
		errors:  gometrics.NewCounter(),
	}
	if shouldSkip(test.name) {
		return res
	}

	keys := getKeys(test.name)
	res.bench = testing.Benchmark(func(b *testing.B) {
		if test.setup != nil {
			test.setup(keys)
		}
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := test.op(counter, keys); err != nil {
					res.errors.Inc(1)
					log.Printf("(%s) - error: %v\n", test.name, err)
				}
				res.latency.UpdateSince(start)
				counter++
			}
		})
	})
	return res
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if strings.TrimSpace(skip) == test {
			return true
		}
	}
	return false
}

// getKeys returns perfKeySpread keys for a test
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(res perfResult) {
	if res.bench.N == 0 {
		fmt.Printf("%-20sskipped\n", res.name)
		return
	}

	nsPerOp := math.Max(float64(res.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	snap := res.latency.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s\terrors=%d\n",
		res.name, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), res.errors.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if res.bench.N > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(res.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		ps := res.latency.Snapshot().Percentiles([]float64{0.5, 0.99})

		row := []string{
			res.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(res.errors.Count(), 10),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}
	return nil
}
