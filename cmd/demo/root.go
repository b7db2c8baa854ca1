package demo

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/korecekm/concread/cmd/util"
	"github.com/korecekm/concread/lib/arcache"
	"github.com/korecekm/concread/lib/bptree"
	"github.com/korecekm/concread/lib/hashmap"
	"github.com/korecekm/concread/lib/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// DemoCommands represents the demo command group
	DemoCommands = &cobra.Command{
		Use:               "demo",
		Short:             "Run concurrent workloads against the engines",
		PersistentPreRunE: processConfig,
	}

	treeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Exercise the ordered copy-on-write tree",
		RunE:  runTree,
	}

	hashCmd = &cobra.Command{
		Use:   "hash",
		Short: "Exercise the hash-keyed map",
		RunE:  runHash,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Exercise the adaptive replacement cache",
		RunE:  runCache,
	}

	demoReaders int
	demoSeconds int
	demoKeys    int
	demoBatch   int
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add workload flags shared by all demos
	key := "readers"
	DemoCommands.PersistentFlags().Int(key, 8, util.WrapString("Number of concurrent reader goroutines"))
	key = "seconds"
	DemoCommands.PersistentFlags().Int(key, 5, util.WrapString("How long to run the workload"))
	key = "keys"
	DemoCommands.PersistentFlags().Int(key, 10_000, util.WrapString("Size of the key space"))
	key = "batch"
	DemoCommands.PersistentFlags().Int(key, 64, util.WrapString("Mutations per write transaction"))

	// Engine-specific flags
	key = "fanout"
	treeCmd.Flags().Int(key, 16, util.WrapString("Maximum keys per tree node"))
	key = "buckets"
	hashCmd.Flags().Int(key, 64, util.WrapString("Bucket table width (power of two)"))
	key = "capacity"
	cacheCmd.Flags().Int(key, 1024, util.WrapString("Maximum resident cache entries"))
	key = "adapt-step"
	cacheCmd.Flags().Int(key, 1, util.WrapString("Adaptation step applied per ghost hit"))

	// Add subcommands
	DemoCommands.AddCommand(treeCmd)
	DemoCommands.AddCommand(hashCmd)
	DemoCommands.AddCommand(cacheCmd)
}

// processConfig reads the shared workload settings from flags and
// environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	demoReaders = viper.GetInt("readers")
	demoSeconds = viper.GetInt("seconds")
	demoKeys = viper.GetInt("keys")
	demoBatch = viper.GetInt("batch")

	return nil
}

// --------------------------------------------------------------------------
// Workload harness
// --------------------------------------------------------------------------

// runWorkload drives one writer loop and demoReaders reader loops until the
// deadline, then prints throughput, snapshot stability and the engine's
// telemetry counters. readPass reports whether the snapshot it observed
// stayed stable while writers were committing.
func runWorkload(name string, tel *telemetry.Telemetry, writeBatch func(rng *rand.Rand) error, readPass func(rng *rand.Rand) bool) {
	fmt.Printf("%s demo: %d readers, 1 writer, %d keys, %ds\n\n", name, demoReaders, demoKeys, demoSeconds)

	deadline := time.Now().Add(time.Duration(demoSeconds) * time.Second)

	var (
		readPasses   atomic.Int64
		tornReads    atomic.Int64
		writeBatches atomic.Int64
		wg           sync.WaitGroup
	)

	for r := 0; r < demoReaders; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for time.Now().Before(deadline) {
				if !readPass(rng) {
					tornReads.Add(1)
				}
				readPasses.Add(1)
			}
		}(int64(r + 1))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(0))

		for time.Now().Before(deadline) {
			if err := writeBatch(rng); err != nil {
				log.Printf("ERROR | demo | commit failed: %v", err)
				return
			}
			writeBatches.Add(1)
		}
	}()

	wg.Wait()

	elapsed := float64(demoSeconds)
	fmt.Printf("read passes:    %d (%.0f/s)\n", readPasses.Load(), float64(readPasses.Load())/elapsed)
	fmt.Printf("write batches:  %d (%.0f/s)\n", writeBatches.Load(), float64(writeBatches.Load())/elapsed)
	fmt.Printf("torn snapshots: %d (transactional readers always observe a stable version)\n\n", tornReads.Load())

	fmt.Println("telemetry:")
	tel.WritePrometheus(os.Stdout)
}

func demoKey(rng *rand.Rand) string {
	return fmt.Sprintf("key-%d", rng.Intn(demoKeys))
}

// --------------------------------------------------------------------------
// Engine demos
// --------------------------------------------------------------------------

func runTree(_ *cobra.Command, _ []string) error {
	tel := telemetry.New("tree-demo")
	m, err := bptree.New[string, []byte](&bptree.Options{
		Fanout:    viper.GetInt("fanout"),
		Telemetry: tel,
	})
	if err != nil {
		return err
	}

	runWorkload("tree", tel,
		func(rng *rand.Rand) error {
			w := m.Write()
			for i := 0; i < demoBatch; i++ {
				if rng.Intn(4) == 0 {
					w.Remove(demoKey(rng))
				} else {
					w.Insert(demoKey(rng), []byte("payload"))
				}
			}
			return w.Commit()
		},
		func(rng *rand.Rand) bool {
			r := m.Read()
			defer r.Close()

			// Mix point lookups with a short ordered scan; the snapshot's
			// size must not move while writers commit around it.
			before := r.Len()
			for i := 0; i < 64; i++ {
				r.Get(demoKey(rng))
			}
			it := r.Iter()
			for i := 0; i < 128 && it.Next(); i++ {
			}
			return r.Len() == before
		},
	)

	fmt.Printf("\nfinal size: %d, generation: %d, pending retired: %d\n",
		func() int { r := m.Read(); defer r.Close(); return r.Len() }(),
		m.Generation(), m.PendingRetired())

	return nil
}

func runHash(_ *cobra.Command, _ []string) error {
	tel := telemetry.New("hash-demo")
	m, err := hashmap.New[[]byte](&hashmap.Options{
		Buckets:   viper.GetInt("buckets"),
		Telemetry: tel,
	})
	if err != nil {
		return err
	}

	runWorkload("hash", tel,
		func(rng *rand.Rand) error {
			w := m.Write()
			for i := 0; i < demoBatch; i++ {
				if rng.Intn(4) == 0 {
					w.Remove(demoKey(rng))
				} else {
					w.Insert(demoKey(rng), []byte("payload"))
				}
			}
			return w.Commit()
		},
		func(rng *rand.Rand) bool {
			r := m.Read()
			defer r.Close()

			before := r.Len()
			for i := 0; i < 64; i++ {
				r.Get(demoKey(rng))
			}
			return r.Len() == before
		},
	)

	info := m.Info()
	fmt.Printf("\nbucket distribution: mean %.1f, min %.0f, max %.0f, quality %.2f\n",
		info.Mean, info.Min, info.Max, info.DistributionQuality)

	return nil
}

func runCache(_ *cobra.Command, _ []string) error {
	tel := telemetry.New("cache-demo")
	c, err := arcache.New[[]byte](&arcache.Options{
		Capacity:  viper.GetInt("capacity"),
		AdaptStep: viper.GetInt("adapt-step"),
		Telemetry: tel,
	})
	if err != nil {
		return err
	}

	// Zipf-like skew so the adaptive target has something to react to:
	// a small hot set is re-read constantly while the long tail scans.
	hotKeys := demoKeys / 10
	if hotKeys < 1 {
		hotKeys = 1
	}

	runWorkload("cache", tel,
		func(rng *rand.Rand) error {
			w := c.Write()
			for i := 0; i < demoBatch; i++ {
				if rng.Intn(3) == 0 {
					w.Get(fmt.Sprintf("key-%d", rng.Intn(hotKeys)))
				} else {
					w.Insert(demoKey(rng), []byte("payload"))
				}
			}
			return w.Commit()
		},
		func(rng *rand.Rand) bool {
			r := c.Read()
			defer r.Close()

			before := r.Len()
			for i := 0; i < 64; i++ {
				if rng.Intn(2) == 0 {
					r.Get(fmt.Sprintf("key-%d", rng.Intn(hotKeys)))
				} else {
					r.Get(demoKey(rng))
				}
			}
			return r.Len() == before
		},
	)

	r := c.Read()
	defer r.Close()
	fmt.Printf("\nresident: %d/%d, target: %d, generation: %d\n",
		r.Len(), c.Capacity(), r.Target(), c.Generation())

	return nil
}
