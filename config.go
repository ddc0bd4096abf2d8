package phoenix

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

var loadConfigOnce sync.Once

func loadConfig() {
	loadConfigOnce.Do(func() {
		viper.SetConfigName("phoenixrc")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.phoenix")

		setupDefaults()

		viper.ReadInConfig()

		viper.SetEnvPrefix("phoenix")
		viper.AutomaticEnv()
	})
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"num_procs":                 0,         // 0 means every CPU in the affinity mask
		"num_map_threads":           0,         // 0 means one per processor
		"num_reduce_threads":        0,         // 0 means one per processor
		"num_merge_threads":         0,         // 0 means half the reduce threads
		"l1_cache_size":             64 * 1024, // Default L1 data cache size is 64KiB
		"key_match_factor":          2.0,       // Expected values per key, used to size reduce tasks
		"reduce_tasks":              0,         // 0 means derive from key_match_factor and l1_cache_size
		"one_queue_per_map_task":    false,
		"one_queue_per_reduce_task": true,
		"bind_cpus":                 false,
		"strict_affinity":           false,
		"initial_capacity":          sortedrun.DefaultInitialCapacity,
		"growth_factor":             sortedrun.DefaultGrowthFactor,
		"progress":                  false,
		"verbose":                   false,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"verbose":  "v",
		"progress": "p",
	}
	for key, alias := range aliases {
		viper.RegisterAlias(alias, key)
	}
}
