// Command semcache is an operations CLI for a semantic cache instance:
// inspect stats, look up prompts, invalidate entries, and preload the cache
// from a warmup file.
//
// Usage:
//
//	semcache [-config path] <command> [args]
//
// Commands:
//
//	ping                       check the durable store
//	stats                      print cache statistics as JSON
//	get <prompt>               semantic lookup for a prompt
//	set <prompt> <response>    store a response
//	invalidate <prompt>        remove one entry
//	invalidate-pattern <text>  remove entries whose prompt contains text
//	clear                      remove everything
//	warm <file.json>           preload entries from a JSON array
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/developer-mesh/semcache/pkg/embedding"
	"github.com/developer-mesh/semcache/pkg/observability"
	"github.com/developer-mesh/semcache/pkg/semcache"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "semcache: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("SEMCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger := observability.NewLogger("semcache.cli")

	shutdownTracing, err := observability.Initialize(observability.TracingConfig{
		Enabled:     v.GetBool("tracing.enabled"),
		ServiceName: "semcache-cli",
		Environment: v.GetString("tracing.environment"),
		Endpoint:    v.GetString("tracing.endpoint"),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := buildCache(v, logger)
	if err != nil {
		return err
	}
	if err := cache.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cache.Close(closeCtx)
	}()

	return dispatch(ctx, cache, args)
}

func buildCache(v *viper.Viper, logger observability.Logger) (*semcache.Cache, error) {
	cfg := semcache.LoadConfigFromViper(v)

	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:     v.GetString("embedding.api_key"),
		BaseURL:    v.GetString("embedding.base_url"),
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbedTimeout,
	})
	if err != nil {
		return nil, err
	}

	addr := v.GetString("redis.addr")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	})

	store, err := semcache.NewRedisStore(client, semcache.RedisStoreConfig{
		Prefix:    cfg.Prefix,
		OpTimeout: cfg.StoreTimeout,
	}, logger.WithPrefix("store"), nil)
	if err != nil {
		return nil, err
	}

	return semcache.New(provider, store, cfg, logger, nil)
}

func dispatch(ctx context.Context, cache *semcache.Cache, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ping":
		if cache.Degraded() {
			return fmt.Errorf("durable store unreachable")
		}
		fmt.Println("ok")
		return nil

	case "stats":
		return printJSON(cache.Stats(ctx))

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: get <prompt>")
		}
		match, err := cache.GetSimilar(ctx, rest[0], nil)
		if err != nil {
			return err
		}
		if match == nil {
			fmt.Println("miss")
			return nil
		}
		return printJSON(match)

	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("usage: set <prompt> <response>")
		}
		if !cache.Set(ctx, rest[0], rest[1], nil) {
			return fmt.Errorf("entry not stored")
		}
		fmt.Println("stored")
		return nil

	case "invalidate":
		if len(rest) != 1 {
			return fmt.Errorf("usage: invalidate <prompt>")
		}
		fmt.Println(cache.Invalidate(ctx, rest[0]))
		return nil

	case "invalidate-pattern":
		if len(rest) != 1 {
			return fmt.Errorf("usage: invalidate-pattern <text>")
		}
		fmt.Printf("removed %d entries\n", cache.InvalidateByPattern(ctx, rest[0]))
		return nil

	case "clear":
		fmt.Printf("removed %d entries\n", cache.Clear(ctx))
		return nil

	case "warm":
		if len(rest) != 1 {
			return fmt.Errorf("usage: warm <file.json>")
		}
		return warmFromFile(ctx, cache, rest[0])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func warmFromFile(ctx context.Context, cache *semcache.Cache, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var entries []semcache.WarmupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse warmup file: %w", err)
	}

	warmer := semcache.NewWarmer(cache, 4, nil)
	stored := warmer.Warm(ctx, entries)
	fmt.Printf("stored %d of %d entries\n", stored, len(entries))
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
